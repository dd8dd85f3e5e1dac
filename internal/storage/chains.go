package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/blockadesystems/certregistry/internal/model"
	"go.uber.org/zap"
)

const (
	chainColumns     = `id, name, created_at, user_id`
	chainLinkColumns = `id, chain_id, certificate_id, "order"`
)

// CreateChain inserts chain and sets its ID. A zero CreatedAt is set to now.
func (s queries) CreateChain(ctx context.Context, chain *model.CertificateChain) error {
	if chain == nil {
		return fmt.Errorf("%w: nil chain", ErrInvalidArgument)
	}
	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO certificate_chains (name, created_at, user_id) VALUES (?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, chain.Name, utc(chain.CreatedAt), chain.UserID)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to create chain '%s'", chain.Name))
	}
	chain.ID = id
	logger.Debug("Chain created", zap.Int64("id", id), zap.String("name", chain.Name))
	return nil
}

func (s queries) GetChain(ctx context.Context, id int64) (*model.CertificateChain, error) {
	var chain model.CertificateChain
	query := `SELECT ` + chainColumns + ` FROM certificate_chains WHERE id = ?`
	if err := s.q.GetContext(ctx, &chain, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("chain %d", id))
	}
	return &chain, nil
}

func (s queries) UpdateChain(ctx context.Context, chain *model.CertificateChain) error {
	if chain == nil {
		return fmt.Errorf("%w: nil chain", ErrInvalidArgument)
	}
	query := `UPDATE certificate_chains SET name = ?, created_at = ?, user_id = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("chain %d", chain.ID), query,
		chain.Name, utc(chain.CreatedAt), chain.UserID, chain.ID); err != nil {
		return err
	}
	logger.Debug("Chain updated", zap.Int64("id", chain.ID))
	return nil
}

func (s queries) ListChainsByUser(ctx context.Context, userID int64) ([]*model.CertificateChain, error) {
	chains := make([]*model.CertificateChain, 0)
	query := `SELECT ` + chainColumns + ` FROM certificate_chains WHERE user_id = ? ORDER BY id`
	if err := s.q.SelectContext(ctx, &chains, s.q.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("storage: failed to list chains for user %d: %w", userID, err)
	}
	return chains, nil
}

// AddChainLink inserts link at its explicit Order and sets its ID. Taking a
// position that is already used fails with ErrDuplicate.
func (s queries) AddChainLink(ctx context.Context, link *model.CertificateChainLink) error {
	if link == nil {
		return fmt.Errorf("%w: nil chain link", ErrInvalidArgument)
	}
	query := `INSERT INTO certificate_chain_links (chain_id, certificate_id, "order") VALUES (?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, link.ChainID, link.CertificateID, link.Order)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to link certificate %d into chain %d at %d", link.CertificateID, link.ChainID, link.Order))
	}
	link.ID = id
	logger.Debug("Chain link created", zap.Int64("id", id), zap.Int64("chainID", link.ChainID),
		zap.Int64("certificateID", link.CertificateID), zap.Int("order", link.Order))
	return nil
}

// appendChainLink places certificateID after the last link of the chain.
// It must run inside a transaction; on PostgreSQL the chain row is locked
// so concurrent appends queue instead of racing for the same position.
func (s queries) appendChainLink(ctx context.Context, chainID, certificateID int64) (*model.CertificateChainLink, error) {
	lockQuery := `SELECT id FROM certificate_chains WHERE id = ?`
	if s.q.DriverName() == driverPostgres {
		lockQuery += ` FOR UPDATE`
	}
	var locked int64
	if err := s.q.QueryRowxContext(ctx, s.q.Rebind(lockQuery), chainID).Scan(&locked); err != nil {
		return nil, notFound(err, fmt.Sprintf("chain %d", chainID))
	}

	var last int
	maxQuery := `SELECT COALESCE(MAX("order"), 0) FROM certificate_chain_links WHERE chain_id = ?`
	if err := s.q.QueryRowxContext(ctx, s.q.Rebind(maxQuery), chainID).Scan(&last); err != nil {
		return nil, fmt.Errorf("storage: failed to read last position of chain %d: %w", chainID, err)
	}

	link := &model.CertificateChainLink{ChainID: chainID, CertificateID: certificateID, Order: last + 1}
	if err := s.AddChainLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s queries) UpdateChainLink(ctx context.Context, link *model.CertificateChainLink) error {
	if link == nil {
		return fmt.Errorf("%w: nil chain link", ErrInvalidArgument)
	}
	query := `UPDATE certificate_chain_links SET chain_id = ?, certificate_id = ?, "order" = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("chain link %d", link.ID), query,
		link.ChainID, link.CertificateID, link.Order, link.ID); err != nil {
		return err
	}
	logger.Debug("Chain link updated", zap.Int64("id", link.ID), zap.Int("order", link.Order))
	return nil
}

// ListChainLinks returns the links of a chain in order.
func (s queries) ListChainLinks(ctx context.Context, chainID int64) ([]*model.CertificateChainLink, error) {
	links := make([]*model.CertificateChainLink, 0)
	query := `SELECT ` + chainLinkColumns + ` FROM certificate_chain_links WHERE chain_id = ? ORDER BY "order", id`
	if err := s.q.SelectContext(ctx, &links, s.q.Rebind(query), chainID); err != nil {
		return nil, fmt.Errorf("storage: failed to list links of chain %d: %w", chainID, err)
	}
	return links, nil
}

// ListChainLinksByCertificate returns every chain position a certificate occupies.
func (s queries) ListChainLinksByCertificate(ctx context.Context, certificateID int64) ([]*model.CertificateChainLink, error) {
	links := make([]*model.CertificateChainLink, 0)
	query := `SELECT ` + chainLinkColumns + ` FROM certificate_chain_links WHERE certificate_id = ? ORDER BY chain_id, "order"`
	if err := s.q.SelectContext(ctx, &links, s.q.Rebind(query), certificateID); err != nil {
		return nil, fmt.Errorf("storage: failed to list chain links of certificate %d: %w", certificateID, err)
	}
	return links, nil
}

// GetChainCertificates returns the certificates of a chain in link order.
func (s queries) GetChainCertificates(ctx context.Context, chainID int64) ([]*model.Certificate, error) {
	certs := make([]*model.Certificate, 0)
	query := `
        SELECT c.id, c.common_name, c.serial_number, c.issuer, c.valid_from, c.valid_to, c.revoked,
               c.revocation_date, c.user_id, c.certificate_type, c.algorithm
        FROM certificate_chain_links l
        JOIN certificates c ON c.id = l.certificate_id
        WHERE l.chain_id = ?
        ORDER BY l."order", l.id`
	if err := s.q.SelectContext(ctx, &certs, s.q.Rebind(query), chainID); err != nil {
		return nil, fmt.Errorf("storage: failed to list certificates of chain %d: %w", chainID, err)
	}
	return certs, nil
}
