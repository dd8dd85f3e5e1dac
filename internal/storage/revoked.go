package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/blockadesystems/certregistry/internal/model"
	"go.uber.org/zap"
)

const revokedColumns = `id, certificate_id, revocation_date, crl_id, delta_crl_id`

// CreateRevokedCertificate inserts rc and sets its ID. A zero
// RevocationDate is set to now.
//
// Whether rc belongs to a CRL, a delta CRL, both or neither is not checked;
// see model.RevokedCertificate.Membership.
func (s queries) CreateRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error {
	if rc == nil {
		return fmt.Errorf("%w: nil revoked certificate", ErrInvalidArgument)
	}
	if rc.RevocationDate.IsZero() {
		rc.RevocationDate = time.Now().UTC()
	}
	query := `INSERT INTO revoked_certificates (certificate_id, revocation_date, crl_id, delta_crl_id) VALUES (?, ?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, rc.CertificateID, utc(rc.RevocationDate), rc.CRLID, rc.DeltaCRLID)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to record revocation of certificate %d", rc.CertificateID))
	}
	rc.ID = id
	if m := rc.Membership(); m == model.MembershipNone || m == model.MembershipBoth {
		logger.Warn("Revocation recorded with ambiguous list membership", zap.Int64("id", id), zap.Stringer("membership", m))
	}
	logger.Debug("Revoked certificate recorded", zap.Int64("id", id), zap.Int64("certificateID", rc.CertificateID))
	return nil
}

func (s queries) GetRevokedCertificate(ctx context.Context, id int64) (*model.RevokedCertificate, error) {
	var rc model.RevokedCertificate
	query := `SELECT ` + revokedColumns + ` FROM revoked_certificates WHERE id = ?`
	if err := s.q.GetContext(ctx, &rc, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("revoked certificate %d", id))
	}
	return &rc, nil
}

func (s queries) UpdateRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error {
	if rc == nil {
		return fmt.Errorf("%w: nil revoked certificate", ErrInvalidArgument)
	}
	query := `UPDATE revoked_certificates SET certificate_id = ?, revocation_date = ?, crl_id = ?, delta_crl_id = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("revoked certificate %d", rc.ID), query,
		rc.CertificateID, utc(rc.RevocationDate), rc.CRLID, rc.DeltaCRLID, rc.ID); err != nil {
		return err
	}
	logger.Debug("Revoked certificate updated", zap.Int64("id", rc.ID))
	return nil
}

// ListRevokedByCRL returns the entries published in a complete CRL.
func (s queries) ListRevokedByCRL(ctx context.Context, crlID int64) ([]*model.RevokedCertificate, error) {
	entries := make([]*model.RevokedCertificate, 0)
	query := `SELECT ` + revokedColumns + ` FROM revoked_certificates WHERE crl_id = ? ORDER BY revocation_date, id`
	if err := s.q.SelectContext(ctx, &entries, s.q.Rebind(query), crlID); err != nil {
		return nil, fmt.Errorf("storage: failed to list revoked certificates of CRL %d: %w", crlID, err)
	}
	return entries, nil
}

// ListRevokedByDeltaCRL returns the entries published in a delta CRL.
func (s queries) ListRevokedByDeltaCRL(ctx context.Context, deltaCRLID int64) ([]*model.RevokedCertificate, error) {
	entries := make([]*model.RevokedCertificate, 0)
	query := `SELECT ` + revokedColumns + ` FROM revoked_certificates WHERE delta_crl_id = ? ORDER BY revocation_date, id`
	if err := s.q.SelectContext(ctx, &entries, s.q.Rebind(query), deltaCRLID); err != nil {
		return nil, fmt.Errorf("storage: failed to list revoked certificates of delta CRL %d: %w", deltaCRLID, err)
	}
	return entries, nil
}
