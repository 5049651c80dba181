package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glueco/keywarden/internal/model"
)

// CreatePairingCode inserts a freshly minted code in ISSUED state.
func (s *Store) CreatePairingCode(ctx context.Context, pc *model.PairingCode) error {
	pc.CreatedAt = time.Now().UTC()
	if pc.State == "" {
		pc.State = model.PairingIssued
	}

	const q = `INSERT INTO pairing_codes (code, gateway_url, state, expires_at, created_at)
		VALUES (:code, :gateway_url, :state, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, pc); err != nil {
		return fmt.Errorf("insert pairing code: %w", err)
	}
	return nil
}

// GetPairingCode returns a pairing code record.
func (s *Store) GetPairingCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	if err := s.db.GetContext(ctx, &pc, s.q("SELECT * FROM pairing_codes WHERE code = ?"), code); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pairing code: %w", err)
	}
	return &pc, nil
}

// ConsumePairingCode atomically transitions a code from ISSUED to CONSUMED.
// The conditional UPDATE is the single serialization point: of two
// concurrent redemptions exactly one matches the ISSUED row, the other
// falls through to the diagnostic lookup and gets ErrCodeConsumed.
func (s *Store) ConsumePairingCode(ctx context.Context, code string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE pairing_codes SET state = ? WHERE code = ? AND state = ? AND expires_at > ?`),
		model.PairingConsumed, code, model.PairingIssued, now)
	if err != nil {
		return fmt.Errorf("consume pairing code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume pairing code rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish why the conditional update missed.
	pc, err := s.GetPairingCode(ctx, code)
	if err != nil {
		return err
	}
	if pc.State != model.PairingIssued {
		return ErrCodeConsumed
	}
	return ErrCodeExpired
}

// connectRequestRow is a flat struct matching the connect_requests table.
// The requested permission list is stored as JSON.
type connectRequestRow struct {
	ID             string     `db:"id"`
	Code           string     `db:"code"`
	AppName        string     `db:"app_name"`
	AppDescription string     `db:"app_description"`
	AppHomepage    string     `db:"app_homepage"`
	PublicKey      string     `db:"public_key"`
	RequestedJSON  string     `db:"requested_json"`
	RedirectURI    string     `db:"redirect_uri"`
	Status         string     `db:"status"`
	AppID          *string    `db:"app_id"`
	CreatedAt      time.Time  `db:"created_at"`
	DecidedAt      *time.Time `db:"decided_at"`
}

func (r connectRequestRow) toModel() (model.ConnectRequest, error) {
	cr := model.ConnectRequest{
		ID:             r.ID,
		Code:           r.Code,
		AppName:        r.AppName,
		AppDescription: r.AppDescription,
		AppHomepage:    r.AppHomepage,
		PublicKey:      r.PublicKey,
		RedirectURI:    r.RedirectURI,
		Status:         model.ConnectRequestStatus(r.Status),
		AppID:          r.AppID,
		CreatedAt:      r.CreatedAt,
		DecidedAt:      r.DecidedAt,
	}
	if r.RequestedJSON != "" && r.RequestedJSON != "[]" {
		if err := json.Unmarshal([]byte(r.RequestedJSON), &cr.Requested); err != nil {
			return model.ConnectRequest{}, fmt.Errorf("unmarshal requested permissions: %w", err)
		}
	}
	return cr, nil
}

// CreateConnectRequest records a redeemed code's install request in PENDING
// state. A UUIDv7 ID is assigned when empty.
func (s *Store) CreateConnectRequest(ctx context.Context, cr *model.ConnectRequest) error {
	if cr.ID == "" {
		cr.ID = uuid.Must(uuid.NewV7()).String()
	}
	cr.CreatedAt = time.Now().UTC()
	if cr.Status == "" {
		cr.Status = model.ConnectPending
	}

	requestedJSON, err := json.Marshal(cr.Requested)
	if err != nil {
		return fmt.Errorf("marshal requested permissions: %w", err)
	}

	row := connectRequestRow{
		ID:             cr.ID,
		Code:           cr.Code,
		AppName:        cr.AppName,
		AppDescription: cr.AppDescription,
		AppHomepage:    cr.AppHomepage,
		PublicKey:      cr.PublicKey,
		RequestedJSON:  string(requestedJSON),
		RedirectURI:    cr.RedirectURI,
		Status:         string(cr.Status),
		CreatedAt:      cr.CreatedAt,
	}

	const q = `INSERT INTO connect_requests
		(id, code, app_name, app_description, app_homepage, public_key, requested_json,
		 redirect_uri, status, created_at)
		VALUES
		(:id, :code, :app_name, :app_description, :app_homepage, :public_key, :requested_json,
		 :redirect_uri, :status, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert connect request: %w", err)
	}
	return nil
}

// GetConnectRequest returns a connect request by ID.
func (s *Store) GetConnectRequest(ctx context.Context, id string) (*model.ConnectRequest, error) {
	var row connectRequestRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM connect_requests WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connect request: %w", err)
	}
	cr, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

// ListConnectRequests returns requests filtered by status; empty status
// lists everything.
func (s *Store) ListConnectRequests(ctx context.Context, status model.ConnectRequestStatus) ([]model.ConnectRequest, error) {
	var rows []connectRequestRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM connect_requests ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.q("SELECT * FROM connect_requests WHERE status = ? ORDER BY created_at DESC"), status)
	}
	if err != nil {
		return nil, fmt.Errorf("list connect requests: %w", err)
	}

	requests := make([]model.ConnectRequest, 0, len(rows))
	for _, r := range rows {
		cr, err := r.toModel()
		if err != nil {
			return nil, err
		}
		requests = append(requests, cr)
	}
	return requests, nil
}

// DecideConnectRequest records the owner's decision. Only PENDING requests
// can be decided; a second decision is rejected with ErrNotFound.
func (s *Store) DecideConnectRequest(ctx context.Context, id string, status model.ConnectRequestStatus, appID *string) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE connect_requests SET status = ?, app_id = ?, decided_at = ? WHERE id = ? AND status = ?`),
		status, appID, time.Now().UTC(), id, model.ConnectPending)
	if err != nil {
		return fmt.Errorf("decide connect request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide connect request rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
