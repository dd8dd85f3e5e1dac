package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockadesystems/certregistry/internal/model"
	"github.com/blockadesystems/certregistry/internal/storage"
	"github.com/blockadesystems/certregistry/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageSuite exercises a Storage implementation. Fixtures use unique
// names so the subtests can share one database.
func runStorageSuite(t *testing.T, store storage.Storage) {
	t.Run("Users", func(t *testing.T) { testUsers(t, store) })
	t.Run("Certificates", func(t *testing.T) { testCertificates(t, store) })
	t.Run("ChainRoundTrip", func(t *testing.T) { testChainRoundTrip(t, store) })
	t.Run("ChainLinkForeignKeys", func(t *testing.T) { testChainLinkForeignKeys(t, store) })
	t.Run("AppendChainLink", func(t *testing.T) { testAppendChainLink(t, store) })
	t.Run("CRLs", func(t *testing.T) { testCRLs(t, store) })
	t.Run("DeltaCRLs", func(t *testing.T) { testDeltaCRLs(t, store) })
	t.Run("RevokedCertificates", func(t *testing.T) { testRevokedCertificates(t, store) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, store) })
}

// baseTime is a fixed instant with whole-second precision so it survives
// every backend's timestamp resolution.
var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newUser(t *testing.T, store storage.Storage) *model.User {
	t.Helper()
	u := model.NewUser(testutils.UniqueName("user"), "$2a$04$hash")
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func newCertificate(t *testing.T, store storage.Storage, userID *int64, certType model.CertificateType) *model.Certificate {
	t.Helper()
	c := &model.Certificate{
		CommonName:      "cn-" + string(certType),
		SerialNumber:    testutils.UniqueName("serial"),
		Issuer:          "CN=Test Root",
		ValidFrom:       baseTime,
		ValidTo:         baseTime.AddDate(1, 0, 0),
		UserID:          userID,
		CertificateType: certType,
	}
	require.NoError(t, store.CreateCertificate(context.Background(), c))
	return c
}

func testUsers(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	u := &model.User{Username: testutils.UniqueName("alice"), HashedPassword: "h1", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NotZero(t, u.ID)
	assert.Equal(t, model.DefaultRole, u.Role, "empty role takes the default")

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	byName, err := store.GetUserByUsername(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	t.Run("duplicate username", func(t *testing.T) {
		dup := model.NewUser(u.Username, "other")
		err := store.CreateUser(ctx, dup)
		assert.ErrorIs(t, err, storage.ErrDuplicate)
		assert.Zero(t, dup.ID)
	})

	t.Run("update", func(t *testing.T) {
		u.IsActive = false
		u.Role = "admin"
		u.HashedPassword = "h2"
		require.NoError(t, store.UpdateUser(ctx, u))
		got, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, "admin", got.Role)
		assert.Equal(t, "h2", got.HashedPassword)
	})

	t.Run("update to taken username", func(t *testing.T) {
		other := newUser(t, store)
		other.Username = u.Username
		assert.ErrorIs(t, store.UpdateUser(ctx, other), storage.ErrDuplicate)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.GetUser(ctx, -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetUserByUsername(ctx, testutils.UniqueName("nobody"))
		assert.ErrorIs(t, err, storage.ErrNotFound)
		err = store.UpdateUser(ctx, &model.User{ID: -1, Username: testutils.UniqueName("ghost")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.CreateUser(ctx, nil), storage.ErrInvalidArgument)
	})

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	var found bool
	for _, listed := range users {
		if listed.ID == u.ID {
			found = true
		}
	}
	assert.True(t, found, "created user is listed")
}

func testCertificates(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	owner := newUser(t, store)

	cert := &model.Certificate{
		CommonName:   "www.example.com",
		SerialNumber: testutils.UniqueName("serial"),
		Issuer:       "CN=Example CA",
		ValidFrom:    baseTime,
		ValidTo:      baseTime.AddDate(0, 6, 0),
		UserID:       &owner.ID,
	}
	require.NoError(t, store.CreateCertificate(ctx, cert))
	require.NotZero(t, cert.ID)
	assert.Equal(t, model.CertificateTypeUser, cert.CertificateType)
	assert.Equal(t, model.AlgorithmRSA, cert.Algorithm)

	got, err := store.GetCertificateBySerial(ctx, cert.SerialNumber)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, got.ID)
	assert.Equal(t, "www.example.com", got.CommonName)
	assert.Equal(t, "CN=Example CA", got.Issuer)
	assert.WithinDuration(t, cert.ValidFrom, got.ValidFrom, time.Second)
	assert.WithinDuration(t, cert.ValidTo, got.ValidTo, time.Second)
	assert.False(t, got.Revoked)
	assert.Nil(t, got.RevocationDate)
	require.NotNil(t, got.UserID)
	assert.Equal(t, owner.ID, *got.UserID)
	assert.Equal(t, model.CertificateTypeUser, got.CertificateType)
	assert.Equal(t, model.AlgorithmRSA, got.Algorithm)

	t.Run("duplicate serial", func(t *testing.T) {
		dup := &model.Certificate{SerialNumber: cert.SerialNumber, ValidFrom: baseTime, ValidTo: baseTime}
		assert.ErrorIs(t, store.CreateCertificate(ctx, dup), storage.ErrDuplicate)
	})

	t.Run("unknown enum", func(t *testing.T) {
		bad := &model.Certificate{SerialNumber: testutils.UniqueName("serial"), CertificateType: "LEAF", ValidFrom: baseTime, ValidTo: baseTime}
		assert.ErrorIs(t, store.CreateCertificate(ctx, bad), storage.ErrInvalidArgument)
		bad = &model.Certificate{SerialNumber: testutils.UniqueName("serial"), Algorithm: "ECDSA", ValidFrom: baseTime, ValidTo: baseTime}
		assert.ErrorIs(t, store.CreateCertificate(ctx, bad), storage.ErrInvalidArgument)
	})

	t.Run("dangling owner", func(t *testing.T) {
		missing := int64(-42)
		orphan := &model.Certificate{SerialNumber: testutils.UniqueName("serial"), UserID: &missing, ValidFrom: baseTime, ValidTo: baseTime}
		assert.ErrorIs(t, store.CreateCertificate(ctx, orphan), storage.ErrForeignKey)
	})

	t.Run("no owner", func(t *testing.T) {
		root := newCertificate(t, store, nil, model.CertificateTypeRoot)
		got, err := store.GetCertificate(ctx, root.ID)
		require.NoError(t, err)
		assert.Nil(t, got.UserID)
		assert.Equal(t, model.CertificateTypeRoot, got.CertificateType)
	})

	t.Run("update", func(t *testing.T) {
		cert.Algorithm = model.AlgorithmGOST
		cert.CertificateType = model.CertificateTypeIntermediate
		cert.CommonName = "Intermediate"
		require.NoError(t, store.UpdateCertificate(ctx, cert))
		got, err := store.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AlgorithmGOST, got.Algorithm)
		assert.Equal(t, model.CertificateTypeIntermediate, got.CertificateType)
		assert.Equal(t, "Intermediate", got.CommonName)

		assert.ErrorIs(t, store.UpdateCertificate(ctx, &model.Certificate{ID: -1, SerialNumber: "x"}), storage.ErrNotFound)
	})

	t.Run("mark revoked", func(t *testing.T) {
		at := baseTime.Add(48 * time.Hour)
		require.NoError(t, store.MarkCertificateRevoked(ctx, cert.ID, at))
		got, err := store.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.RevocationDate)
		assert.WithinDuration(t, at, *got.RevocationDate, time.Second)

		assert.ErrorIs(t, store.MarkCertificateRevoked(ctx, -1, at), storage.ErrNotFound)
	})

	t.Run("list by user", func(t *testing.T) {
		second := newCertificate(t, store, &owner.ID, model.CertificateTypeUser)
		newCertificate(t, store, nil, model.CertificateTypeUser)

		certs, err := store.ListCertificatesByUser(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, cert.ID, certs[0].ID)
		assert.Equal(t, second.ID, certs[1].ID)

		none, err := store.ListCertificatesByUser(ctx, -1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	_, err = store.GetCertificateBySerial(ctx, testutils.UniqueName("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testChainRoundTrip(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	owner := newUser(t, store)

	chain := &model.CertificateChain{Name: "web", UserID: &owner.ID}
	require.NoError(t, store.CreateChain(ctx, chain))
	require.NotZero(t, chain.ID)
	assert.False(t, chain.CreatedAt.IsZero(), "zero created_at is filled in")

	leaf := newCertificate(t, store, &owner.ID, model.CertificateTypeUser)
	intermediate := newCertificate(t, store, nil, model.CertificateTypeIntermediate)
	root := newCertificate(t, store, nil, model.CertificateTypeRoot)

	// Insert out of order; reads come back in chain order.
	for _, l := range []*model.CertificateChainLink{
		{ChainID: chain.ID, CertificateID: root.ID, Order: 3},
		{ChainID: chain.ID, CertificateID: leaf.ID, Order: 1},
		{ChainID: chain.ID, CertificateID: intermediate.ID, Order: 2},
	} {
		require.NoError(t, store.AddChainLink(ctx, l))
		require.NotZero(t, l.ID)
	}

	links, err := store.ListChainLinks(ctx, chain.ID)
	require.NoError(t, err)
	require.Len(t, links, 3)
	for i, l := range links {
		assert.Equal(t, i+1, l.Order)
	}
	assert.NoError(t, model.ValidateChainOrder(links))

	certs, err := store.GetChainCertificates(ctx, chain.ID)
	require.NoError(t, err)
	require.Len(t, certs, 3)
	assert.Equal(t, []int64{leaf.ID, intermediate.ID, root.ID}, []int64{certs[0].ID, certs[1].ID, certs[2].ID})
	assert.Equal(t, model.CertificateTypeRoot, certs[2].CertificateType)

	t.Run("position taken", func(t *testing.T) {
		err := store.AddChainLink(ctx, &model.CertificateChainLink{ChainID: chain.ID, CertificateID: leaf.ID, Order: 2})
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("reorder", func(t *testing.T) {
		links[2].Order = 10
		require.NoError(t, store.UpdateChainLink(ctx, links[2]))
		reread, err := store.ListChainLinks(ctx, chain.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, reread[2].Order)
		assert.Error(t, model.ValidateChainOrder(reread), "a gap is reported")

		assert.ErrorIs(t, store.UpdateChainLink(ctx, &model.CertificateChainLink{ID: -1, ChainID: chain.ID, CertificateID: leaf.ID}), storage.ErrNotFound)
	})

	t.Run("chain fields", func(t *testing.T) {
		got, err := store.GetChain(ctx, chain.ID)
		require.NoError(t, err)
		assert.Equal(t, "web", got.Name)
		assert.WithinDuration(t, chain.CreatedAt, got.CreatedAt, time.Second)

		got.Name = "web-renamed"
		require.NoError(t, store.UpdateChain(ctx, got))
		chains, err := store.ListChainsByUser(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, chains, 1)
		assert.Equal(t, "web-renamed", chains[0].Name)

		_, err = store.GetChain(ctx, -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("links by certificate", func(t *testing.T) {
		other := &model.CertificateChain{Name: "other", CreatedAt: baseTime}
		require.NoError(t, store.CreateChain(ctx, other))
		require.NoError(t, store.AddChainLink(ctx, &model.CertificateChainLink{ChainID: other.ID, CertificateID: root.ID, Order: 1}))

		byCert, err := store.ListChainLinksByCertificate(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, byCert, 2)
		assert.Equal(t, chain.ID, byCert[0].ChainID)
		assert.Equal(t, other.ID, byCert[1].ChainID)
	})
}

func testChainLinkForeignKeys(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	chain := &model.CertificateChain{Name: "fk", CreatedAt: baseTime}
	require.NoError(t, store.CreateChain(ctx, chain))
	cert := newCertificate(t, store, nil, model.CertificateTypeUser)

	err := store.AddChainLink(ctx, &model.CertificateChainLink{ChainID: -7, CertificateID: cert.ID, Order: 1})
	assert.ErrorIs(t, err, storage.ErrForeignKey)

	err = store.AddChainLink(ctx, &model.CertificateChainLink{ChainID: chain.ID, CertificateID: -7, Order: 1})
	assert.ErrorIs(t, err, storage.ErrForeignKey)

	missingOwner := int64(-9)
	err = store.CreateChain(ctx, &model.CertificateChain{Name: "orphan", UserID: &missingOwner})
	assert.ErrorIs(t, err, storage.ErrForeignKey)

	links, err := store.ListChainLinks(ctx, chain.ID)
	require.NoError(t, err)
	assert.Empty(t, links, "rejected links are not stored")
}

func testAppendChainLink(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	chain := &model.CertificateChain{Name: "appended", CreatedAt: baseTime}
	require.NoError(t, store.CreateChain(ctx, chain))

	var ids []int64
	for i := 0; i < 4; i++ {
		cert := newCertificate(t, store, nil, model.CertificateTypeUser)
		link, err := store.AppendChainLink(ctx, chain.ID, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, link.Order)
		assert.NotZero(t, link.ID)
		ids = append(ids, cert.ID)
	}

	certs, err := store.GetChainCertificates(ctx, chain.ID)
	require.NoError(t, err)
	require.Len(t, certs, len(ids))
	for i, c := range certs {
		assert.Equal(t, ids[i], c.ID)
	}

	links, err := store.ListChainLinks(ctx, chain.ID)
	require.NoError(t, err)
	assert.NoError(t, model.ValidateChainOrder(links))

	_, err = store.AppendChainLink(ctx, -3, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.AppendChainLink(ctx, chain.ID, -3)
	assert.ErrorIs(t, err, storage.ErrForeignKey)
}

func testCRLs(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	issuer := testutils.UniqueName("CN=Issuing CA")

	next, err := store.NextCRLNumber(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	_, err = store.GetLatestCRL(ctx, issuer)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := &model.CRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime.Add(24 * time.Hour), CRLNumber: next}
	require.NoError(t, store.CreateCRL(ctx, first))
	second := &model.CRL{Issuer: issuer, ThisUpdate: baseTime.Add(24 * time.Hour), NextUpdate: baseTime.Add(48 * time.Hour), CRLNumber: 2}
	require.NoError(t, store.CreateCRL(ctx, second))

	latest, err := store.GetLatestCRL(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, int64(2), latest.CRLNumber)
	assert.WithinDuration(t, second.NextUpdate, latest.NextUpdate, time.Second)

	crls, err := store.ListCRLs(ctx, issuer)
	require.NoError(t, err)
	require.Len(t, crls, 2)
	assert.Equal(t, first.ID, crls[0].ID)

	next, err = store.NextCRLNumber(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	other, err := store.NextCRLNumber(ctx, testutils.UniqueName("CN=Other"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "numbers are per issuer")

	first.NextUpdate = baseTime.Add(12 * time.Hour)
	require.NoError(t, store.UpdateCRL(ctx, first))
	got, err := store.GetCRL(ctx, first.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, first.NextUpdate, got.NextUpdate, time.Second)

	assert.ErrorIs(t, store.UpdateCRL(ctx, &model.CRL{ID: -1}), storage.ErrNotFound)
	_, err = store.GetCRL(ctx, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeltaCRLs(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	issuer := testutils.UniqueName("CN=Delta CA")

	base := &model.CRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime.Add(7 * 24 * time.Hour), CRLNumber: 1}
	require.NoError(t, store.CreateCRL(ctx, base))

	t.Run("dangling base", func(t *testing.T) {
		orphan := &model.DeltaCRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime, CRLNumber: 99, BaseCRLID: -1}
		assert.ErrorIs(t, store.CreateDeltaCRL(ctx, orphan), storage.ErrForeignKey)
		assert.Zero(t, orphan.ID)
	})

	delta := &model.DeltaCRL{Issuer: issuer, ThisUpdate: baseTime.Add(time.Hour), NextUpdate: baseTime.Add(2 * time.Hour), CRLNumber: 2, BaseCRLID: base.ID}
	require.NoError(t, store.CreateDeltaCRL(ctx, delta))
	require.NotZero(t, delta.ID)

	got, err := store.GetDeltaCRL(ctx, delta.ID)
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.BaseCRLID)
	assert.Equal(t, int64(2), got.CRLNumber)

	next, err := store.NextCRLNumber(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next, "delta CRLs share the issuer's number sequence")

	later := &model.DeltaCRL{Issuer: issuer, ThisUpdate: baseTime.Add(2 * time.Hour), NextUpdate: baseTime.Add(3 * time.Hour), CRLNumber: next, BaseCRLID: base.ID}
	require.NoError(t, store.CreateDeltaCRL(ctx, later))

	deltas, err := store.ListDeltaCRLs(ctx, base.ID)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, delta.ID, deltas[0].ID)
	assert.Equal(t, later.ID, deltas[1].ID)

	later.BaseCRLID = -5
	assert.ErrorIs(t, store.UpdateDeltaCRL(ctx, later), storage.ErrForeignKey)
	later.BaseCRLID = base.ID
	later.CRLNumber = 4
	require.NoError(t, store.UpdateDeltaCRL(ctx, later))

	_, err = store.GetDeltaCRL(ctx, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRevokedCertificates(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	issuer := testutils.UniqueName("CN=Revoking CA")
	crl := &model.CRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime.Add(time.Hour), CRLNumber: 1}
	require.NoError(t, store.CreateCRL(ctx, crl))
	delta := &model.DeltaCRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime.Add(time.Hour), CRLNumber: 2, BaseCRLID: crl.ID}
	require.NoError(t, store.CreateDeltaCRL(ctx, delta))
	cert := newCertificate(t, store, nil, model.CertificateTypeUser)

	inCRL := &model.RevokedCertificate{CertificateID: cert.ID, RevocationDate: baseTime, CRLID: &crl.ID}
	require.NoError(t, store.CreateRevokedCertificate(ctx, inCRL))
	inDelta := &model.RevokedCertificate{CertificateID: cert.ID, RevocationDate: baseTime.Add(time.Minute), DeltaCRLID: &delta.ID}
	require.NoError(t, store.CreateRevokedCertificate(ctx, inDelta))

	got, err := store.GetRevokedCertificate(ctx, inCRL.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MembershipCRL, got.Membership())
	assert.WithinDuration(t, baseTime, got.RevocationDate, time.Second)
	assert.Nil(t, got.DeltaCRLID)

	// The schema does not make crl_id and delta_crl_id mutually exclusive;
	// these rows are accepted and only flagged by Membership.
	t.Run("both lists accepted", func(t *testing.T) {
		both := &model.RevokedCertificate{CertificateID: cert.ID, RevocationDate: baseTime, CRLID: &crl.ID, DeltaCRLID: &delta.ID}
		require.NoError(t, store.CreateRevokedCertificate(ctx, both))
		got, err := store.GetRevokedCertificate(ctx, both.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MembershipBoth, got.Membership())
	})

	t.Run("no list accepted", func(t *testing.T) {
		neither := &model.RevokedCertificate{CertificateID: cert.ID}
		require.NoError(t, store.CreateRevokedCertificate(ctx, neither))
		assert.False(t, neither.RevocationDate.IsZero(), "zero revocation date is filled in")
		got, err := store.GetRevokedCertificate(ctx, neither.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MembershipNone, got.Membership())
	})

	t.Run("dangling references", func(t *testing.T) {
		missing := int64(-1)
		assert.ErrorIs(t, store.CreateRevokedCertificate(ctx, &model.RevokedCertificate{CertificateID: -1, CRLID: &crl.ID}), storage.ErrForeignKey)
		assert.ErrorIs(t, store.CreateRevokedCertificate(ctx, &model.RevokedCertificate{CertificateID: cert.ID, CRLID: &missing}), storage.ErrForeignKey)
		assert.ErrorIs(t, store.CreateRevokedCertificate(ctx, &model.RevokedCertificate{CertificateID: cert.ID, DeltaCRLID: &missing}), storage.ErrForeignKey)
	})

	t.Run("ordered by instant across zones", func(t *testing.T) {
		list := &model.CRL{Issuer: issuer, ThisUpdate: baseTime, NextUpdate: baseTime.Add(time.Hour), CRLNumber: 3}
		require.NoError(t, store.CreateCRL(ctx, list))

		// 15:00 at +05:00 is 10:00 UTC, two hours before the UTC entry,
		// although its wall-clock text sorts after it.
		east := time.FixedZone("UTC+5", 5*60*60)
		later := &model.RevokedCertificate{CertificateID: cert.ID, RevocationDate: baseTime, CRLID: &list.ID}
		earlier := &model.RevokedCertificate{CertificateID: cert.ID, RevocationDate: time.Date(2025, 3, 1, 15, 0, 0, 0, east), CRLID: &list.ID}
		require.NoError(t, store.CreateRevokedCertificate(ctx, later))
		require.NoError(t, store.CreateRevokedCertificate(ctx, earlier))

		entries, err := store.ListRevokedByCRL(ctx, list.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, earlier.ID, entries[0].ID)
		assert.Equal(t, later.ID, entries[1].ID)
		assert.True(t, entries[0].RevocationDate.Equal(earlier.RevocationDate))
	})

	byCRL, err := store.ListRevokedByCRL(ctx, crl.ID)
	require.NoError(t, err)
	require.Len(t, byCRL, 2, "the CRL-only and the both-lists entries")
	assert.Equal(t, inCRL.ID, byCRL[0].ID)

	byDelta, err := store.ListRevokedByDeltaCRL(ctx, delta.ID)
	require.NoError(t, err)
	require.Len(t, byDelta, 2)

	t.Run("move to delta", func(t *testing.T) {
		inCRL.CRLID = nil
		inCRL.DeltaCRLID = &delta.ID
		require.NoError(t, store.UpdateRevokedCertificate(ctx, inCRL))
		got, err := store.GetRevokedCertificate(ctx, inCRL.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MembershipDeltaCRL, got.Membership())

		assert.ErrorIs(t, store.UpdateRevokedCertificate(ctx, &model.RevokedCertificate{ID: -1, CertificateID: cert.ID}), storage.ErrNotFound)
	})

	_, err = store.GetRevokedCertificate(ctx, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTransactions(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	errAbort := errors.New("abort")

	rolledBack := testutils.UniqueName("rollback")
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		require.NoError(t, tx.CreateUser(ctx, model.NewUser(rolledBack, "h")))
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)
	_, err = store.GetUserByUsername(ctx, rolledBack)
	assert.ErrorIs(t, err, storage.ErrNotFound, "rolled back insert is not visible")

	committed := testutils.UniqueName("commit")
	var chainID int64
	err = store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		u := model.NewUser(committed, "h")
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		chain := &model.CertificateChain{Name: "tx", UserID: &u.ID}
		if err := tx.CreateChain(ctx, chain); err != nil {
			return err
		}
		chainID = chain.ID
		cert := &model.Certificate{SerialNumber: testutils.UniqueName("serial"), ValidFrom: baseTime, ValidTo: baseTime, UserID: &u.ID}
		if err := tx.CreateCertificate(ctx, cert); err != nil {
			return err
		}
		_, err := tx.AppendChainLink(ctx, chain.ID, cert.ID)
		return err
	})
	require.NoError(t, err)
	_, err = store.GetUserByUsername(ctx, committed)
	assert.NoError(t, err)
	links, err := store.ListChainLinks(ctx, chainID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	err = store.WithinTransaction(ctx, func(ctx context.Context, tx storage.Storage) error {
		require.NoError(t, tx.Ping(ctx))
		assert.NoError(t, tx.Close(), "closing a transactional store is a no-op")
		return tx.WithinTransaction(ctx, func(context.Context, storage.Storage) error { return nil })
	})
	assert.ErrorIs(t, err, storage.ErrNestedTransaction)
}
