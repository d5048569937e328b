package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/operator-dao/pkg/models"
)

var errAbort = errors.New("abort")

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dao.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemoryForTest(t *testing.T) Store {
	return NewMemoryStore()
}

func backends(t *testing.T) map[string]func(*testing.T) Store {
	b := map[string]func(*testing.T) Store{
		"memory": newMemoryForTest,
		"sqlite": newSQLiteForTest,
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewStore(Config{Type: "postgres", DSN: dsn})
			if err != nil {
				t.Fatalf("Failed to create PostgreSQL store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			resetPostgres(t, s.(*PostgreSQLStore))
			return s
		}
	}
	return b
}

// resetPostgres empties the shared integration database between subtests
func resetPostgres(t *testing.T, s *PostgreSQLStore) {
	t.Helper()
	_, err := s.db.Exec(`
		TRUNCATE votes, proposals, operators, extensions, balances, transfers;
		UPDATE dao_state SET constructed = FALSE, constructed_by = NULL, constructed_at = NULL,
			bootstrap_ref = NULL, last_proposal_id = 0, treasury_balance = 0 WHERE id = 1;
	`)
	if err != nil {
		t.Fatalf("Failed to reset database: %v", err)
	}
}

func TestStoreBackends(t *testing.T) {
	for name, newStore := range backends(t) {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Run("OperatorSet", func(t *testing.T) { testOperatorSet(t, newStore(t)) })
			t.Run("Proposals", func(t *testing.T) { testProposals(t, newStore(t)) })
			t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
			t.Run("ReadOnlyView", func(t *testing.T) { testReadOnlyView(t, newStore(t)) })
			t.Run("Treasury", func(t *testing.T) { testTreasury(t, newStore(t)) })
			t.Run("ConcurrentProposalIDs", func(t *testing.T) { testConcurrentProposalIDs(t, newStore(t)) })
		})
	}
}

func testOperatorSet(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := s.Update(ctx, func(tx Tx) error {
		added, err := tx.AddOperator(models.Operator{Address: "ST1", AddedAt: now})
		if err != nil {
			return err
		}
		if !added {
			t.Error("first AddOperator returned added=false")
		}
		added, err = tx.AddOperator(models.Operator{Address: "ST1", AddedAt: now})
		if err != nil {
			return err
		}
		if added {
			t.Error("duplicate AddOperator returned added=true")
		}
		_, err = tx.AddOperator(models.Operator{Address: "ST2", AddedAt: now, ProposalID: 4})
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = s.View(ctx, func(tx Tx) error {
		ops, err := tx.ListOperators()
		if err != nil {
			return err
		}
		if len(ops) != 2 {
			t.Fatalf("ListOperators() returned %d operators, want 2", len(ops))
		}
		if ops[0].Address != "ST1" || ops[1].Address != "ST2" {
			t.Errorf("ListOperators() order = %v, want ST1, ST2", ops)
		}
		if ops[1].ProposalID != 4 {
			t.Errorf("ProposalID = %d, want 4", ops[1].ProposalID)
		}
		n, err := tx.CountOperators()
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("CountOperators() = %d, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	err = s.Update(ctx, func(tx Tx) error {
		removed, err := tx.RemoveOperator("ST1")
		if err != nil {
			return err
		}
		if !removed {
			t.Error("RemoveOperator(ST1) returned removed=false")
		}
		removed, err = tx.RemoveOperator("ST9")
		if err != nil {
			return err
		}
		if removed {
			t.Error("RemoveOperator(ST9) returned removed=true for a non-member")
		}
		ok, err := tx.IsOperator("ST1")
		if err != nil {
			return err
		}
		if ok {
			t.Error("ST1 still an operator after removal")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func testProposals(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var id1, id2 uint64
	err := s.Update(ctx, func(tx Tx) error {
		var err error
		if id1, err = tx.NextProposalID(); err != nil {
			return err
		}
		if id2, err = tx.NextProposalID(); err != nil {
			return err
		}
		for _, id := range []uint64{id1, id2} {
			p := &models.Proposal{ID: id, Description: "d", ActionRef: "dp001", Proposer: "ST1", CreatedAt: now}
			if err := tx.InsertProposal(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Fatalf("proposal ids = %d, %d, want 1, 2", id1, id2)
	}

	err = s.Update(ctx, func(tx Tx) error {
		if err := tx.PutVote(id1, models.Vote{Voter: "ST1", Approve: true, CastAt: now}); err != nil {
			return err
		}
		if err := tx.PutVote(id1, models.Vote{Voter: "ST2", Approve: false, CastAt: now}); err != nil {
			return err
		}
		if err := tx.PutVote(id1, models.Vote{Voter: "ST1", Approve: false, CastAt: now}); !errors.Is(err, ErrDuplicateVote) {
			t.Errorf("duplicate PutVote error = %v, want ErrDuplicateVote", err)
		}
		p, err := tx.GetProposal(id1)
		if err != nil {
			return err
		}
		executedAt := now.Add(time.Minute)
		p.Executed = true
		p.ExecutedAt = &executedAt
		p.StateTransitions = append(p.StateTransitions, models.StateTransition{
			From: models.ProposalStatusPending, To: models.ProposalStatusExecuted, Timestamp: executedAt, Reason: "threshold reached",
		})
		return tx.UpdateProposal(p)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = s.View(ctx, func(tx Tx) error {
		p, err := tx.GetProposal(id1)
		if err != nil {
			return err
		}
		if !p.Executed || p.ExecutedAt == nil {
			t.Errorf("proposal %d not executed after UpdateProposal", id1)
		}
		if len(p.Votes) != 2 || p.Votes[0].Voter != "ST1" || p.Votes[1].Voter != "ST2" {
			t.Errorf("votes = %+v, want ST1 then ST2", p.Votes)
		}
		if len(p.StateTransitions) != 1 || p.StateTransitions[0].To != models.ProposalStatusExecuted {
			t.Errorf("state transitions = %+v", p.StateTransitions)
		}

		if _, err := tx.GetProposal(99); !errors.Is(err, ErrProposalNotFound) {
			t.Errorf("GetProposal(99) error = %v, want ErrProposalNotFound", err)
		}

		all, err := tx.ListProposals()
		if err != nil {
			return err
		}
		if len(all) != 2 || all[0].ID != id1 || all[1].ID != id2 {
			t.Errorf("ListProposals() = %d proposals, want ids 1, 2", len(all))
		}
		if len(all[0].Votes) != 2 {
			t.Errorf("ListProposals() did not load votes")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()

	err := s.Update(ctx, func(tx Tx) error {
		if _, err := tx.AddOperator(models.Operator{Address: "ST1", AddedAt: time.Now()}); err != nil {
			return err
		}
		if _, err := tx.NextProposalID(); err != nil {
			return err
		}
		if err := tx.SetTreasuryBalance(500); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update error = %v, want errAbort", err)
	}

	err = s.View(ctx, func(tx Tx) error {
		ok, err := tx.IsOperator("ST1")
		if err != nil {
			return err
		}
		if ok {
			t.Error("operator write survived a failed Update")
		}
		d, err := tx.DAOState()
		if err != nil {
			return err
		}
		if d.LastProposalID != 0 {
			t.Errorf("LastProposalID = %d after rollback, want 0", d.LastProposalID)
		}
		bal, err := tx.TreasuryBalance()
		if err != nil {
			return err
		}
		if bal != 0 {
			t.Errorf("treasury = %d after rollback, want 0", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func testReadOnlyView(t *testing.T, s Store) {
	err := s.View(context.Background(), func(tx Tx) error {
		_, err := tx.AddOperator(models.Operator{Address: "ST1", AddedAt: time.Now()})
		return err
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("write inside View error = %v, want ErrReadOnly", err)
	}
}

func testTreasury(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.SetTreasuryBalance(1000); err != nil {
			return err
		}
		if err := tx.Credit("ST2", 250); err != nil {
			return err
		}
		if err := tx.Credit("ST2", 50); err != nil {
			return err
		}
		return tx.InsertTransfer(&models.TransferReceipt{
			ID: "t-1", ProposalID: 3, ActionRef: "dp003", Recipient: "ST2", Amount: 300, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = s.View(ctx, func(tx Tx) error {
		bal, err := tx.TreasuryBalance()
		if err != nil {
			return err
		}
		if bal != 1000 {
			t.Errorf("TreasuryBalance() = %d, want 1000", bal)
		}
		acct, err := tx.Balance("ST2")
		if err != nil {
			return err
		}
		if acct != 300 {
			t.Errorf("Balance(ST2) = %d, want 300", acct)
		}
		none, err := tx.Balance("ST9")
		if err != nil {
			return err
		}
		if none != 0 {
			t.Errorf("Balance(ST9) = %d, want 0", none)
		}
		transfers, err := tx.ListTransfers()
		if err != nil {
			return err
		}
		if len(transfers) != 1 || transfers[0].Amount != 300 || transfers[0].Recipient != "ST2" {
			t.Errorf("ListTransfers() = %+v", transfers)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

// testConcurrentProposalIDs checks that ids stay unique under concurrent writers
func testConcurrentProposalIDs(t *testing.T, s Store) {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	ids := make(chan uint64, writers)
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx Tx) error {
				id, err := tx.NextProposalID()
				if err != nil {
					return err
				}
				ids <- id
				return nil
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Update failed: %v", err)
	}

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("proposal id %d allocated twice", id)
		}
		seen[id] = true
	}
	if len(seen) != writers {
		t.Errorf("allocated %d distinct ids, want %d", len(seen), writers)
	}
}

func TestQuestionToDollar(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = ?", "WHERE a = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		if got := questionToDollar(tt.in); got != tt.want {
			t.Errorf("questionToDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	if _, err := NewStore(Config{Type: "mongodb"}); err != ErrUnsupportedDatabase {
		t.Errorf("NewStore(mongodb) error = %v, want ErrUnsupportedDatabase", err)
	}
}
