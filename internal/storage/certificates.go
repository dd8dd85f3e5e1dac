package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/blockadesystems/certregistry/internal/model"
	"go.uber.org/zap"
)

const certificateColumns = `id, common_name, serial_number, issuer, valid_from, valid_to, revoked, revocation_date, user_id, certificate_type, algorithm`

// validateCertificate fills empty enum fields with their defaults and
// rejects unknown variants.
func validateCertificate(cert *model.Certificate) error {
	if cert == nil {
		return fmt.Errorf("%w: nil certificate", ErrInvalidArgument)
	}
	if cert.CertificateType == "" {
		cert.CertificateType = model.DefaultCertificateType
	}
	if cert.Algorithm == "" {
		cert.Algorithm = model.DefaultAlgorithm
	}
	if !cert.CertificateType.Valid() {
		return fmt.Errorf("%w: unknown certificate type %q", ErrInvalidArgument, string(cert.CertificateType))
	}
	if !cert.Algorithm.Valid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidArgument, string(cert.Algorithm))
	}
	return nil
}

// CreateCertificate inserts cert and sets its ID.
func (s queries) CreateCertificate(ctx context.Context, cert *model.Certificate) error {
	if err := validateCertificate(cert); err != nil {
		return err
	}
	query := `
        INSERT INTO certificates
            (common_name, serial_number, issuer, valid_from, valid_to, revoked, revocation_date, user_id, certificate_type, algorithm)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, cert.CommonName, cert.SerialNumber, cert.Issuer, utc(cert.ValidFrom), utc(cert.ValidTo),
		cert.Revoked, utcPtr(cert.RevocationDate), cert.UserID, cert.CertificateType, cert.Algorithm)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to create certificate with serial '%s'", cert.SerialNumber))
	}
	cert.ID = id
	logger.Debug("Certificate created", zap.Int64("id", id), zap.String("serialNumber", cert.SerialNumber))
	return nil
}

func (s queries) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	var cert model.Certificate
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = ?`
	if err := s.q.GetContext(ctx, &cert, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("certificate %d", id))
	}
	return &cert, nil
}

func (s queries) GetCertificateBySerial(ctx context.Context, serialNumber string) (*model.Certificate, error) {
	var cert model.Certificate
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE serial_number = ?`
	if err := s.q.GetContext(ctx, &cert, s.q.Rebind(query), serialNumber); err != nil {
		return nil, notFound(err, fmt.Sprintf("certificate with serial '%s'", serialNumber))
	}
	return &cert, nil
}

// UpdateCertificate overwrites every column of the certificate with cert.ID.
func (s queries) UpdateCertificate(ctx context.Context, cert *model.Certificate) error {
	if err := validateCertificate(cert); err != nil {
		return err
	}
	query := `
        UPDATE certificates SET
            common_name = ?, serial_number = ?, issuer = ?, valid_from = ?, valid_to = ?,
            revoked = ?, revocation_date = ?, user_id = ?, certificate_type = ?, algorithm = ?
        WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("certificate %d", cert.ID), query,
		cert.CommonName, cert.SerialNumber, cert.Issuer, utc(cert.ValidFrom), utc(cert.ValidTo),
		cert.Revoked, utcPtr(cert.RevocationDate), cert.UserID, cert.CertificateType, cert.Algorithm, cert.ID); err != nil {
		return err
	}
	logger.Debug("Certificate updated", zap.Int64("id", cert.ID))
	return nil
}

// MarkCertificateRevoked sets the revoked flag and revocation date of a
// certificate. A zero revocationDate means now.
func (s queries) MarkCertificateRevoked(ctx context.Context, id int64, revocationDate time.Time) error {
	if revocationDate.IsZero() {
		revocationDate = time.Now().UTC()
	}
	query := `UPDATE certificates SET revoked = ?, revocation_date = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("certificate %d", id), query, true, utc(revocationDate), id); err != nil {
		return err
	}
	logger.Debug("Certificate marked revoked", zap.Int64("id", id), zap.Time("revocationDate", revocationDate))
	return nil
}

// ListCertificatesByUser returns the certificates owned by userID.
func (s queries) ListCertificatesByUser(ctx context.Context, userID int64) ([]*model.Certificate, error) {
	certs := make([]*model.Certificate, 0)
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE user_id = ? ORDER BY id`
	if err := s.q.SelectContext(ctx, &certs, s.q.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("storage: failed to list certificates for user %d: %w", userID, err)
	}
	return certs, nil
}
