package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"
)

// CertificateType classifies a certificate by its position in a hierarchy.
type CertificateType string

const (
	CertificateTypeRoot         CertificateType = "ROOT"
	CertificateTypeIntermediate CertificateType = "INTERMEDIATE"
	CertificateTypeUser         CertificateType = "USER"
)

// DefaultCertificateType is stored when a certificate is created without a type.
const DefaultCertificateType = CertificateTypeUser

// ParseCertificateType returns the CertificateType named by s.
func ParseCertificateType(s string) (CertificateType, error) {
	t := CertificateType(s)
	if !t.Valid() {
		return "", fmt.Errorf("model: unknown certificate type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known variants.
func (t CertificateType) Valid() bool {
	switch t {
	case CertificateTypeRoot, CertificateTypeIntermediate, CertificateTypeUser:
		return true
	}
	return false
}

func (t CertificateType) String() string { return string(t) }

// Value implements driver.Valuer.
func (t CertificateType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("model: unknown certificate type %q", string(t))
	}
	return string(t), nil
}

// Scan implements sql.Scanner.
func (t *CertificateType) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return fmt.Errorf("model: scan certificate type: %w", err)
	}
	parsed, err := ParseCertificateType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AlgorithmType is the key algorithm family of a certificate.
type AlgorithmType string

const (
	AlgorithmGOST AlgorithmType = "GOST"
	AlgorithmRSA  AlgorithmType = "RSA"
)

// DefaultAlgorithm is stored when a certificate is created without an algorithm.
const DefaultAlgorithm = AlgorithmRSA

// ParseAlgorithmType returns the AlgorithmType named by s.
func ParseAlgorithmType(s string) (AlgorithmType, error) {
	a := AlgorithmType(s)
	if !a.Valid() {
		return "", fmt.Errorf("model: unknown algorithm %q", s)
	}
	return a, nil
}

// Valid reports whether a is one of the known variants.
func (a AlgorithmType) Valid() bool {
	return a == AlgorithmGOST || a == AlgorithmRSA
}

func (a AlgorithmType) String() string { return string(a) }

// Value implements driver.Valuer.
func (a AlgorithmType) Value() (driver.Value, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("model: unknown algorithm %q", string(a))
	}
	return string(a), nil
}

// Scan implements sql.Scanner.
func (a *AlgorithmType) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return fmt.Errorf("model: scan algorithm: %w", err)
	}
	parsed, err := ParseAlgorithmType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected NULL")
	default:
		return "", fmt.Errorf("unsupported source type %T", src)
	}
}

// DefaultRole is the role given to users created without one.
const DefaultRole = "user"

// User is an account that owns certificates and chains.
type User struct {
	ID             int64  `json:"id" db:"id"`
	Username       string `json:"username" db:"username"` // Unique across users
	HashedPassword string `json:"-" db:"hashed_password"`
	IsActive       bool   `json:"is_active" db:"is_active"`
	Role           string `json:"role" db:"role"` // Free text, e.g. "user" or "admin"
}

// NewUser returns an active user with the default role.
func NewUser(username, hashedPassword string) *User {
	return &User{
		Username:       username,
		HashedPassword: hashedPassword,
		IsActive:       true,
		Role:           DefaultRole,
	}
}

// Certificate is the registry record of an issued certificate.
type Certificate struct {
	ID              int64           `json:"id" db:"id"`
	CommonName      string          `json:"common_name" db:"common_name"`
	SerialNumber    string          `json:"serial_number" db:"serial_number"` // Unique across certificates
	Issuer          string          `json:"issuer" db:"issuer"`
	ValidFrom       time.Time       `json:"valid_from" db:"valid_from"`
	ValidTo         time.Time       `json:"valid_to" db:"valid_to"`
	Revoked         bool            `json:"revoked" db:"revoked"`
	RevocationDate  *time.Time      `json:"revocation_date,omitempty" db:"revocation_date"`
	UserID          *int64          `json:"user_id,omitempty" db:"user_id"` // Owning user, optional
	CertificateType CertificateType `json:"certificate_type" db:"certificate_type"`
	Algorithm       AlgorithmType   `json:"algorithm" db:"algorithm"`
}

// CertificateChain is a named, user-defined ordered list of certificates.
// Membership and position live in CertificateChainLink rows.
type CertificateChain struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UserID    *int64    `json:"user_id,omitempty" db:"user_id"`
}

// CertificateChainLink places a certificate at a position in a chain.
type CertificateChainLink struct {
	ID            int64 `json:"id" db:"id"`
	ChainID       int64 `json:"chain_id" db:"chain_id"`
	CertificateID int64 `json:"certificate_id" db:"certificate_id"`
	Order         int   `json:"order" db:"order"` // Position in the chain, leaf first
}

// CRL is a complete certificate revocation list issued by Issuer.
type CRL struct {
	ID         int64     `json:"id" db:"id"`
	Issuer     string    `json:"issuer" db:"issuer"`
	ThisUpdate time.Time `json:"this_update" db:"this_update"`
	NextUpdate time.Time `json:"next_update" db:"next_update"`
	CRLNumber  int64     `json:"crl_number" db:"crl_number"`
}

// DeltaCRL lists only the revocations made since its base CRL.
type DeltaCRL struct {
	ID         int64     `json:"id" db:"id"`
	Issuer     string    `json:"issuer" db:"issuer"`
	ThisUpdate time.Time `json:"this_update" db:"this_update"`
	NextUpdate time.Time `json:"next_update" db:"next_update"`
	CRLNumber  int64     `json:"crl_number" db:"crl_number"`
	BaseCRLID  int64     `json:"base_crl_id" db:"base_crl_id"`
}

// RevokedCertificate records the revocation of a certificate and the list
// that publishes it.
type RevokedCertificate struct {
	ID             int64     `json:"id" db:"id"`
	CertificateID  int64     `json:"certificate_id" db:"certificate_id"`
	RevocationDate time.Time `json:"revocation_date" db:"revocation_date"`
	CRLID          *int64    `json:"crl_id,omitempty" db:"crl_id"`
	DeltaCRLID     *int64    `json:"delta_crl_id,omitempty" db:"delta_crl_id"`
}

// Membership describes which revocation list a RevokedCertificate belongs to.
type Membership int

const (
	MembershipNone Membership = iota
	MembershipCRL
	MembershipDeltaCRL
	MembershipBoth
)

func (m Membership) String() string {
	switch m {
	case MembershipCRL:
		return "crl"
	case MembershipDeltaCRL:
		return "delta_crl"
	case MembershipBoth:
		return "both"
	default:
		return "none"
	}
}

// Membership reports which of crl_id and delta_crl_id are set. Only
// MembershipCRL and MembershipDeltaCRL are well-formed; the store accepts
// the other two.
func (r *RevokedCertificate) Membership() Membership {
	switch {
	case r.CRLID != nil && r.DeltaCRLID != nil:
		return MembershipBoth
	case r.CRLID != nil:
		return MembershipCRL
	case r.DeltaCRLID != nil:
		return MembershipDeltaCRL
	default:
		return MembershipNone
	}
}

// ValidateChainOrder checks that the links of one chain carry unique,
// contiguous order values. The input is not modified.
func ValidateChainOrder(links []*CertificateChainLink) error {
	if len(links) == 0 {
		return nil
	}
	orders := make([]int, 0, len(links))
	chainID := links[0].ChainID
	for _, l := range links {
		if l.ChainID != chainID {
			return fmt.Errorf("model: links belong to chains %d and %d", chainID, l.ChainID)
		}
		orders = append(orders, l.Order)
	}
	sort.Ints(orders)
	for i := 1; i < len(orders); i++ {
		switch {
		case orders[i] == orders[i-1]:
			return fmt.Errorf("model: chain %d has duplicate order %d", chainID, orders[i])
		case orders[i] != orders[i-1]+1:
			return fmt.Errorf("model: chain %d has a gap between order %d and %d", chainID, orders[i-1], orders[i])
		}
	}
	return nil
}
