package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/psantana5/operator-dao/pkg/models"
)

// sqlTx implements Tx on top of database/sql for both SQLite and PostgreSQL.
// Queries are written with ? placeholders; rebind rewrites them for the dialect.
type sqlTx struct {
	tx       *sql.Tx
	rebind   func(string) string
	readOnly bool
}

// questionToDollar rewrites ? placeholders to $1, $2, ... for PostgreSQL
func questionToDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func noRebind(query string) string { return query }

func (t *sqlTx) exec(query string, args ...interface{}) (sql.Result, error) {
	if t.readOnly {
		return nil, ErrReadOnly
	}
	return t.tx.Exec(t.rebind(query), args...)
}

func (t *sqlTx) queryRow(query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRow(t.rebind(query), args...)
}

func (t *sqlTx) query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.Query(t.rebind(query), args...)
}

// DAO core state

func (t *sqlTx) DAOState() (models.DAOState, error) {
	var (
		d             models.DAOState
		constructedBy sql.NullString
		constructedAt sql.NullTime
		bootstrapRef  sql.NullString
	)
	err := t.queryRow(`
		SELECT constructed, constructed_by, constructed_at, bootstrap_ref, last_proposal_id
		FROM dao_state WHERE id = 1
	`).Scan(&d.Constructed, &constructedBy, &constructedAt, &bootstrapRef, &d.LastProposalID)
	if err != nil {
		return d, fmt.Errorf("read dao state: %w", err)
	}
	d.ConstructedBy = models.Address(constructedBy.String)
	d.BootstrapRef = bootstrapRef.String
	if constructedAt.Valid {
		at := constructedAt.Time
		d.ConstructedAt = &at
	}
	return d, nil
}

func (t *sqlTx) PutDAOState(state models.DAOState) error {
	var constructedAt interface{}
	if state.ConstructedAt != nil {
		constructedAt = *state.ConstructedAt
	}
	_, err := t.exec(`
		UPDATE dao_state
		SET constructed = ?, constructed_by = ?, constructed_at = ?, bootstrap_ref = ?, last_proposal_id = ?
		WHERE id = 1
	`, state.Constructed, string(state.ConstructedBy), constructedAt, state.BootstrapRef, state.LastProposalID)
	if err != nil {
		return fmt.Errorf("write dao state: %w", err)
	}
	return nil
}

// Operator set

func (t *sqlTx) IsOperator(addr models.Address) (bool, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM operators WHERE address = ?`, string(addr)).Scan(&n); err != nil {
		return false, fmt.Errorf("check operator: %w", err)
	}
	return n > 0, nil
}

func (t *sqlTx) AddOperator(op models.Operator) (bool, error) {
	res, err := t.exec(`
		INSERT INTO operators (address, added_at, proposal_id)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO NOTHING
	`, string(op.Address), op.AddedAt, op.ProposalID)
	if err != nil {
		return false, fmt.Errorf("add operator: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add operator: %w", err)
	}
	return n > 0, nil
}

func (t *sqlTx) RemoveOperator(addr models.Address) (bool, error) {
	res, err := t.exec(`DELETE FROM operators WHERE address = ?`, string(addr))
	if err != nil {
		return false, fmt.Errorf("remove operator: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove operator: %w", err)
	}
	return n > 0, nil
}

func (t *sqlTx) ListOperators() ([]models.Operator, error) {
	rows, err := t.query(`SELECT address, added_at, proposal_id FROM operators ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	ops := make([]models.Operator, 0)
	for rows.Next() {
		var op models.Operator
		var addr string
		if err := rows.Scan(&addr, &op.AddedAt, &op.ProposalID); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		op.Address = models.Address(addr)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (t *sqlTx) CountOperators() (int, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return n, nil
}

// Registered extensions

func (t *sqlTx) RegisterExtension(ext models.Extension) error {
	_, err := t.exec(`
		INSERT INTO extensions (ref, registered_at)
		VALUES (?, ?)
		ON CONFLICT (ref) DO NOTHING
	`, ext.Ref, ext.RegisteredAt)
	if err != nil {
		return fmt.Errorf("register extension: %w", err)
	}
	return nil
}

func (t *sqlTx) IsExtension(ref string) (bool, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM extensions WHERE ref = ?`, ref).Scan(&n); err != nil {
		return false, fmt.Errorf("check extension: %w", err)
	}
	return n > 0, nil
}

func (t *sqlTx) ListExtensions() ([]models.Extension, error) {
	rows, err := t.query(`SELECT ref, registered_at FROM extensions ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()

	exts := make([]models.Extension, 0)
	for rows.Next() {
		var ext models.Extension
		if err := rows.Scan(&ext.Ref, &ext.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan extension: %w", err)
		}
		exts = append(exts, ext)
	}
	return exts, rows.Err()
}

// Proposals and votes

func (t *sqlTx) NextProposalID() (uint64, error) {
	if _, err := t.exec(`UPDATE dao_state SET last_proposal_id = last_proposal_id + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("allocate proposal id: %w", err)
	}
	var id uint64
	if err := t.queryRow(`SELECT last_proposal_id FROM dao_state WHERE id = 1`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate proposal id: %w", err)
	}
	return id, nil
}

func (t *sqlTx) InsertProposal(p *models.Proposal) error {
	transitions, err := json.Marshal(p.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	var executedAt interface{}
	if p.ExecutedAt != nil {
		executedAt = *p.ExecutedAt
	}
	_, err = t.exec(`
		INSERT INTO proposals
		(id, description, action_ref, proposer, executed, created_at, executed_at, state_transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Description, p.ActionRef, string(p.Proposer), p.Executed, p.CreatedAt, executedAt, string(transitions))
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	for _, v := range p.Votes {
		if err := t.PutVote(p.ID, v); err != nil {
			return err
		}
	}
	return nil
}

const proposalColumns = `id, description, action_ref, proposer, executed, created_at, executed_at, state_transitions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p           models.Proposal
		proposer    string
		executedAt  sql.NullTime
		transitions sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Description, &p.ActionRef, &proposer, &p.Executed,
		&p.CreatedAt, &executedAt, &transitions); err != nil {
		return nil, err
	}
	p.Proposer = models.Address(proposer)
	if executedAt.Valid {
		at := executedAt.Time
		p.ExecutedAt = &at
	}
	if transitions.Valid && transitions.String != "" && transitions.String != "null" {
		if err := json.Unmarshal([]byte(transitions.String), &p.StateTransitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
		}
	}
	return &p, nil
}

func (t *sqlTx) GetProposal(id uint64) (*models.Proposal, error) {
	p, err := scanProposal(t.queryRow(`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p.Votes, err = t.votes(id); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *sqlTx) ListProposals() ([]*models.Proposal, error) {
	rows, err := t.query(`SELECT ` + proposalColumns + ` FROM proposals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	out := make([]*models.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Votes are loaded after the cursor is released; SQLite runs on a single connection.
	for _, p := range out {
		if p.Votes, err = t.votes(p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *sqlTx) votes(proposalID uint64) ([]models.Vote, error) {
	rows, err := t.query(`
		SELECT voter, approve, cast_at FROM votes
		WHERE proposal_id = ? ORDER BY position
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		var voter string
		if err := rows.Scan(&voter, &v.Approve, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Voter = models.Address(voter)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (t *sqlTx) PutVote(proposalID uint64, vote models.Vote) error {
	var position int
	if err := t.queryRow(`SELECT COUNT(*) FROM votes WHERE proposal_id = ?`, proposalID).Scan(&position); err != nil {
		return fmt.Errorf("count votes: %w", err)
	}
	res, err := t.exec(`
		INSERT INTO votes (proposal_id, voter, approve, cast_at, position)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (proposal_id, voter) DO NOTHING
	`, proposalID, string(vote.Voter), vote.Approve, vote.CastAt, position)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	if n == 0 {
		return ErrDuplicateVote
	}
	return nil
}

// UpdateProposal persists the executed flag and state transitions.
// Votes are only ever added through PutVote.
func (t *sqlTx) UpdateProposal(p *models.Proposal) error {
	transitions, err := json.Marshal(p.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	var executedAt interface{}
	if p.ExecutedAt != nil {
		executedAt = *p.ExecutedAt
	}
	res, err := t.exec(`
		UPDATE proposals SET executed = ?, executed_at = ?, state_transitions = ?
		WHERE id = ?
	`, p.Executed, executedAt, string(transitions), p.ID)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if n == 0 {
		return ErrProposalNotFound
	}
	return nil
}

// Treasury and accounts

func (t *sqlTx) TreasuryBalance() (uint64, error) {
	var bal uint64
	if err := t.queryRow(`SELECT treasury_balance FROM dao_state WHERE id = 1`).Scan(&bal); err != nil {
		return 0, fmt.Errorf("read treasury balance: %w", err)
	}
	return bal, nil
}

func (t *sqlTx) SetTreasuryBalance(amount uint64) error {
	if _, err := t.exec(`UPDATE dao_state SET treasury_balance = ? WHERE id = 1`, amount); err != nil {
		return fmt.Errorf("write treasury balance: %w", err)
	}
	return nil
}

func (t *sqlTx) Balance(addr models.Address) (uint64, error) {
	var bal uint64
	err := t.queryRow(`SELECT amount FROM balances WHERE address = ?`, string(addr)).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

func (t *sqlTx) Credit(addr models.Address, amount uint64) error {
	_, err := t.exec(`
		INSERT INTO balances (address, amount) VALUES (?, ?)
		ON CONFLICT (address) DO UPDATE SET amount = balances.amount + excluded.amount
	`, string(addr), amount)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertTransfer(r *models.TransferReceipt) error {
	var seq int
	if err := t.queryRow(`SELECT COUNT(*) FROM transfers`).Scan(&seq); err != nil {
		return fmt.Errorf("count transfers: %w", err)
	}
	_, err := t.exec(`
		INSERT INTO transfers (id, seq, proposal_id, action_ref, recipient, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, seq, r.ProposalID, r.ActionRef, string(r.Recipient), r.Amount, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (t *sqlTx) ListTransfers() ([]models.TransferReceipt, error) {
	rows, err := t.query(`
		SELECT id, proposal_id, action_ref, recipient, amount, created_at
		FROM transfers ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]models.TransferReceipt, 0)
	for rows.Next() {
		var r models.TransferReceipt
		var recipient string
		if err := rows.Scan(&r.ID, &r.ProposalID, &r.ActionRef, &recipient, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		r.Recipient = models.Address(recipient)
		out = append(out, r)
	}
	return out, rows.Err()
}
