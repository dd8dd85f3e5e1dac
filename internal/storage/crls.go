package storage

import (
	"context"
	"fmt"

	"github.com/blockadesystems/certregistry/internal/model"
	"go.uber.org/zap"
)

const (
	crlColumns      = `id, issuer, this_update, next_update, crl_number`
	deltaCRLColumns = `id, issuer, this_update, next_update, crl_number, base_crl_id`
)

// --- CRLs ---

// CreateCRL inserts crl and sets its ID. CRLNumber is stored as given; use
// NextCRLNumber to allocate one.
func (s queries) CreateCRL(ctx context.Context, crl *model.CRL) error {
	if crl == nil {
		return fmt.Errorf("%w: nil CRL", ErrInvalidArgument)
	}
	query := `INSERT INTO crls (issuer, this_update, next_update, crl_number) VALUES (?, ?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, crl.Issuer, utc(crl.ThisUpdate), utc(crl.NextUpdate), crl.CRLNumber)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to create CRL %d for issuer '%s'", crl.CRLNumber, crl.Issuer))
	}
	crl.ID = id
	logger.Debug("CRL created", zap.Int64("id", id), zap.String("issuer", crl.Issuer), zap.Int64("crlNumber", crl.CRLNumber))
	return nil
}

func (s queries) GetCRL(ctx context.Context, id int64) (*model.CRL, error) {
	var crl model.CRL
	query := `SELECT ` + crlColumns + ` FROM crls WHERE id = ?`
	if err := s.q.GetContext(ctx, &crl, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("CRL %d", id))
	}
	return &crl, nil
}

func (s queries) UpdateCRL(ctx context.Context, crl *model.CRL) error {
	if crl == nil {
		return fmt.Errorf("%w: nil CRL", ErrInvalidArgument)
	}
	query := `UPDATE crls SET issuer = ?, this_update = ?, next_update = ?, crl_number = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("CRL %d", crl.ID), query,
		crl.Issuer, utc(crl.ThisUpdate), utc(crl.NextUpdate), crl.CRLNumber, crl.ID); err != nil {
		return err
	}
	logger.Debug("CRL updated", zap.Int64("id", crl.ID))
	return nil
}

// ListCRLs returns the complete CRLs of issuer by ascending CRL number.
func (s queries) ListCRLs(ctx context.Context, issuer string) ([]*model.CRL, error) {
	crls := make([]*model.CRL, 0)
	query := `SELECT ` + crlColumns + ` FROM crls WHERE issuer = ? ORDER BY crl_number, id`
	if err := s.q.SelectContext(ctx, &crls, s.q.Rebind(query), issuer); err != nil {
		return nil, fmt.Errorf("storage: failed to list CRLs for issuer '%s': %w", issuer, err)
	}
	return crls, nil
}

// GetLatestCRL returns the complete CRL of issuer with the highest number.
func (s queries) GetLatestCRL(ctx context.Context, issuer string) (*model.CRL, error) {
	var crl model.CRL
	query := `SELECT ` + crlColumns + ` FROM crls WHERE issuer = ? ORDER BY crl_number DESC, id DESC LIMIT 1`
	if err := s.q.GetContext(ctx, &crl, s.q.Rebind(query), issuer); err != nil {
		return nil, notFound(err, fmt.Sprintf("latest CRL for issuer '%s'", issuer))
	}
	return &crl, nil
}

// NextCRLNumber returns one more than the highest CRL number issuer has
// used, counting complete and delta CRLs as a single sequence. An issuer
// without CRLs starts at 1.
func (s queries) NextCRLNumber(ctx context.Context, issuer string) (int64, error) {
	query := `
        SELECT COALESCE(MAX(n), 0) + 1 FROM (
            SELECT crl_number AS n FROM crls WHERE issuer = ?
            UNION ALL
            SELECT crl_number AS n FROM delta_crls WHERE issuer = ?
        ) AS numbers`
	var next int64
	if err := s.q.QueryRowxContext(ctx, s.q.Rebind(query), issuer, issuer).Scan(&next); err != nil {
		return 0, fmt.Errorf("storage: failed to compute next CRL number for issuer '%s': %w", issuer, err)
	}
	return next, nil
}

// --- Delta CRLs ---

// CreateDeltaCRL inserts delta and sets its ID. BaseCRLID must name an
// existing CRL.
func (s queries) CreateDeltaCRL(ctx context.Context, delta *model.DeltaCRL) error {
	if delta == nil {
		return fmt.Errorf("%w: nil delta CRL", ErrInvalidArgument)
	}
	query := `INSERT INTO delta_crls (issuer, this_update, next_update, crl_number, base_crl_id) VALUES (?, ?, ?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, delta.Issuer, utc(delta.ThisUpdate), utc(delta.NextUpdate), delta.CRLNumber, delta.BaseCRLID)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to create delta CRL %d on base CRL %d", delta.CRLNumber, delta.BaseCRLID))
	}
	delta.ID = id
	logger.Debug("Delta CRL created", zap.Int64("id", id), zap.Int64("baseCRLID", delta.BaseCRLID), zap.Int64("crlNumber", delta.CRLNumber))
	return nil
}

func (s queries) GetDeltaCRL(ctx context.Context, id int64) (*model.DeltaCRL, error) {
	var delta model.DeltaCRL
	query := `SELECT ` + deltaCRLColumns + ` FROM delta_crls WHERE id = ?`
	if err := s.q.GetContext(ctx, &delta, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("delta CRL %d", id))
	}
	return &delta, nil
}

func (s queries) UpdateDeltaCRL(ctx context.Context, delta *model.DeltaCRL) error {
	if delta == nil {
		return fmt.Errorf("%w: nil delta CRL", ErrInvalidArgument)
	}
	query := `UPDATE delta_crls SET issuer = ?, this_update = ?, next_update = ?, crl_number = ?, base_crl_id = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("delta CRL %d", delta.ID), query,
		delta.Issuer, utc(delta.ThisUpdate), utc(delta.NextUpdate), delta.CRLNumber, delta.BaseCRLID, delta.ID); err != nil {
		return err
	}
	logger.Debug("Delta CRL updated", zap.Int64("id", delta.ID))
	return nil
}

// ListDeltaCRLs returns the delta CRLs built on baseCRLID by ascending number.
func (s queries) ListDeltaCRLs(ctx context.Context, baseCRLID int64) ([]*model.DeltaCRL, error) {
	deltas := make([]*model.DeltaCRL, 0)
	query := `SELECT ` + deltaCRLColumns + ` FROM delta_crls WHERE base_crl_id = ? ORDER BY crl_number, id`
	if err := s.q.SelectContext(ctx, &deltas, s.q.Rebind(query), baseCRLID); err != nil {
		return nil, fmt.Errorf("storage: failed to list delta CRLs of CRL %d: %w", baseCRLID, err)
	}
	return deltas, nil
}
