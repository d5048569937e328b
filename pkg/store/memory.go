package store

import (
	"context"
	"sort"
	"sync"

	"github.com/psantana5/operator-dao/pkg/models"
)

// MemoryStore is an in-memory implementation of the host ledger.
// Update works on a private copy of the state and swaps it in on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	dao        models.DAOState
	treasury   uint64
	operators  map[models.Address]models.Operator
	extensions map[string]models.Extension
	proposals  map[uint64]*models.Proposal
	balances   map[models.Address]uint64
	transfers  []models.TransferReceipt
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			operators:  make(map[models.Address]models.Operator),
			extensions: make(map[string]models.Extension),
			proposals:  make(map[uint64]*models.Proposal),
			balances:   make(map[models.Address]uint64),
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		dao:        st.dao,
		treasury:   st.treasury,
		operators:  make(map[models.Address]models.Operator, len(st.operators)),
		extensions: make(map[string]models.Extension, len(st.extensions)),
		proposals:  make(map[uint64]*models.Proposal, len(st.proposals)),
		balances:   make(map[models.Address]uint64, len(st.balances)),
		transfers:  append([]models.TransferReceipt(nil), st.transfers...),
	}
	if st.dao.ConstructedAt != nil {
		t := *st.dao.ConstructedAt
		c.dao.ConstructedAt = &t
	}
	for k, v := range st.operators {
		c.operators[k] = v
	}
	for k, v := range st.extensions {
		c.extensions[k] = v
	}
	for k, v := range st.proposals {
		c.proposals[k] = v.Clone()
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	return c
}

// Update runs fn against a copy of the state and commits it if fn succeeds
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn against the committed state
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{st: s.state, readOnly: true})
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

type memTx struct {
	st       *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

// DAO core state

func (t *memTx) DAOState() (models.DAOState, error) {
	d := t.st.dao
	if d.ConstructedAt != nil {
		at := *d.ConstructedAt
		d.ConstructedAt = &at
	}
	return d, nil
}

func (t *memTx) PutDAOState(state models.DAOState) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.dao = state
	return nil
}

// Operator set

func (t *memTx) IsOperator(addr models.Address) (bool, error) {
	_, ok := t.st.operators[addr]
	return ok, nil
}

func (t *memTx) AddOperator(op models.Operator) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.st.operators[op.Address]; ok {
		return false, nil
	}
	t.st.operators[op.Address] = op
	return true, nil
}

func (t *memTx) RemoveOperator(addr models.Address) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.st.operators[addr]; !ok {
		return false, nil
	}
	delete(t.st.operators, addr)
	return true, nil
}

func (t *memTx) ListOperators() ([]models.Operator, error) {
	ops := make([]models.Operator, 0, len(t.st.operators))
	for _, op := range t.st.operators {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Address < ops[j].Address })
	return ops, nil
}

func (t *memTx) CountOperators() (int, error) {
	return len(t.st.operators), nil
}

// Registered extensions

func (t *memTx) RegisterExtension(ext models.Extension) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.extensions[ext.Ref]; !ok {
		t.st.extensions[ext.Ref] = ext
	}
	return nil
}

func (t *memTx) IsExtension(ref string) (bool, error) {
	_, ok := t.st.extensions[ref]
	return ok, nil
}

func (t *memTx) ListExtensions() ([]models.Extension, error) {
	exts := make([]models.Extension, 0, len(t.st.extensions))
	for _, ext := range t.st.extensions {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].Ref < exts[j].Ref })
	return exts, nil
}

// Proposals and votes

func (t *memTx) NextProposalID() (uint64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	t.st.dao.LastProposalID++
	return t.st.dao.LastProposalID, nil
}

func (t *memTx) InsertProposal(p *models.Proposal) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.proposals[p.ID]; ok {
		return NewError("proposal id already in use")
	}
	t.st.proposals[p.ID] = p.Clone()
	return nil
}

func (t *memTx) GetProposal(id uint64) (*models.Proposal, error) {
	p, ok := t.st.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) ListProposals() ([]*models.Proposal, error) {
	out := make([]*models.Proposal, 0, len(t.st.proposals))
	for _, p := range t.st.proposals {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) PutVote(proposalID uint64, vote models.Vote) error {
	if err := t.writable(); err != nil {
		return err
	}
	p, ok := t.st.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.HasVoted(vote.Voter) {
		return ErrDuplicateVote
	}
	p.Votes = append(p.Votes, vote)
	return nil
}

// UpdateProposal persists the executed flag and state transitions.
// Votes are only ever added through PutVote.
func (t *memTx) UpdateProposal(p *models.Proposal) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.st.proposals[p.ID]
	if !ok {
		return ErrProposalNotFound
	}
	next := p.Clone()
	next.Votes = cur.Votes
	t.st.proposals[p.ID] = next
	return nil
}

// Treasury and accounts

func (t *memTx) TreasuryBalance() (uint64, error) {
	return t.st.treasury, nil
}

func (t *memTx) SetTreasuryBalance(amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.treasury = amount
	return nil
}

func (t *memTx) Balance(addr models.Address) (uint64, error) {
	return t.st.balances[addr], nil
}

func (t *memTx) Credit(addr models.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.balances[addr] += amount
	return nil
}

func (t *memTx) InsertTransfer(r *models.TransferReceipt) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.transfers = append(t.st.transfers, *r)
	return nil
}

func (t *memTx) ListTransfers() ([]models.TransferReceipt, error) {
	return append([]models.TransferReceipt(nil), t.st.transfers...), nil
}
