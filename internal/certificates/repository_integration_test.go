//go:build integration

package certificates_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/internal/testhelpers"
)

func TestRepository_InsertClassifiesConstraints(t *testing.T) {
	pool := testhelpers.SetupPostgres(t)
	repo := certificates.NewRepository(pool)
	ctx := context.Background()
	organizer := testhelpers.SeedUser(t, pool, "organizer")
	eventID := testhelpers.SeedEvent(t, pool, organizer, 10)
	speaker := testhelpers.SeedUser(t, pool, "speaker")
	talkID := testhelpers.SeedTalk(t, pool, eventID, 10, 2, &speaker)
	ana := testhelpers.SeedUser(t, pool, "student")
	bia := testhelpers.SeedUser(t, pool, "student")
	issued := time.Date(2026, 5, 8, 18, 0, 0, 0, time.UTC)

	first := &models.Certificate{Kind: models.CertificateParticipation, UserID: ana, EventID: eventID, Code: "CERT-2026-0000000a", TotalHours: 5, IssuedAt: issued}
	require.NoError(t, repo.InsertCertificate(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	sameCode := &models.Certificate{Kind: models.CertificateParticipation, UserID: bia, EventID: eventID, Code: "CERT-2026-0000000a", TotalHours: 2, IssuedAt: issued}
	assert.ErrorIs(t, repo.InsertCertificate(ctx, sameCode), certificates.ErrCodeTaken)

	again := &models.Certificate{Kind: models.CertificateParticipation, UserID: ana, EventID: eventID, Code: "CERT-2026-0000000b", TotalHours: 5, IssuedAt: issued}
	assert.ErrorIs(t, repo.InsertCertificate(ctx, again), certificates.ErrCertificateExists)

	speech := &models.Certificate{Kind: models.CertificateSpeaker, UserID: speaker, EventID: eventID, TalkID: &talkID, Code: "CERT-2026-0000000c", TotalHours: 2, IssuedAt: issued}
	require.NoError(t, repo.InsertCertificate(ctx, speech))
	speech2 := &models.Certificate{Kind: models.CertificateSpeaker, UserID: speaker, EventID: eventID, TalkID: &talkID, Code: "CERT-2026-0000000d", TotalHours: 2, IssuedAt: issued}
	assert.ErrorIs(t, repo.InsertCertificate(ctx, speech2), certificates.ErrCertificateExists)

	has, err := repo.HasParticipationCertificate(ctx, ana, eventID)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = repo.HasSpeakerCertificate(ctx, speaker, talkID)
	require.NoError(t, err)
	assert.True(t, has)

	v, err := repo.GetCertificateVerification(ctx, "CERT-2026-0000000c")
	require.NoError(t, err)
	assert.Equal(t, models.CertificateSpeaker, v.Kind)
	assert.Equal(t, "Load paths", v.TalkTitle)
	assert.Equal(t, 2.0, v.TotalHours)

	_, err = repo.GetCertificateVerification(ctx, "CERT-2026-ffffffff")
	assert.ErrorIs(t, err, apperr.ErrCertificateNotFound)
}

func TestRepository_BatchOnPostgres(t *testing.T) {
	pool := testhelpers.SetupPostgres(t)
	repo := certificates.NewRepository(pool)
	ctx := context.Background()
	organizer := testhelpers.SeedUser(t, pool, "organizer")
	eventID := testhelpers.SeedEvent(t, pool, organizer, 10)
	speaker := testhelpers.SeedUser(t, pool, "speaker")
	t1 := testhelpers.SeedTalk(t, pool, eventID, 10, 2, &speaker)
	t2 := testhelpers.SeedTalk(t, pool, eventID, 10, 3, nil)
	t3 := testhelpers.SeedTalk(t, pool, eventID, 10, 4, nil)

	x := testhelpers.SeedUser(t, pool, "student")
	y := testhelpers.SeedUser(t, pool, "student")
	for _, s := range []uuid.UUID{x, y} {
		testhelpers.SeedEventEnrollment(t, pool, s, eventID)
	}
	testhelpers.SeedTalkEnrollment(t, pool, x, t1, true)
	testhelpers.SeedTalkEnrollment(t, pool, x, t2, true)
	testhelpers.SeedTalkEnrollment(t, pool, x, t3, false)
	testhelpers.SeedTalkEnrollment(t, pool, y, t3, false)

	codes := []string{"CERT-2026-00000001", "CERT-2026-00000001", "CERT-2026-00000002"}
	calls := 0
	agg := certificates.NewAggregator(repo, nil, 3, nil)
	agg.SetCodeFunc(func(int) (string, error) {
		c := codes[calls%len(codes)]
		calls++
		return c, nil
	})

	res, err := agg.IssueForEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ParticipationIssued)
	assert.Equal(t, 1, res.SpeakerIssued)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 3, calls, "a code collision on the unique key is retried")

	var hours float64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT total_hours::float8 FROM certificates WHERE kind = 'participation' AND user_id = $1`, x).Scan(&hours))
	assert.Equal(t, 5.0, hours)
	assert.Zero(t, testhelpers.Count(t, pool, `SELECT COUNT(*) FROM certificates WHERE user_id = $1`, y))

	rerun := certificates.NewAggregator(repo, nil, 5, nil)
	second, err := rerun.IssueForEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Zero(t, second.ParticipationIssued+second.SpeakerIssued)
	assert.Equal(t, 2, second.Skipped)
}

func TestRepository_ConcurrentBatchesIssueOnce(t *testing.T) {
	pool := testhelpers.SetupPostgres(t)
	repo := certificates.NewRepository(pool)
	ctx := context.Background()
	organizer := testhelpers.SeedUser(t, pool, "organizer")
	eventID := testhelpers.SeedEvent(t, pool, organizer, 100)
	talkID := testhelpers.SeedTalk(t, pool, eventID, 100, 1.5, nil)

	const students = 20
	for i := 0; i < students; i++ {
		s := testhelpers.SeedUser(t, pool, "student")
		testhelpers.SeedEventEnrollment(t, pool, s, eventID)
		testhelpers.SeedTalkEnrollment(t, pool, s, talkID, true)
	}

	results := make([]*certificates.BatchResult, 3)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := certificates.NewAggregator(repo, nil, 5, nil).IssueForEvent(ctx, eventID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	issued := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Empty(t, res.Failures)
		issued += res.ParticipationIssued
		assert.Equal(t, students, res.ParticipationIssued+res.Skipped)
	}
	assert.Equal(t, students, issued)
	assert.Equal(t, students, testhelpers.Count(t, pool, `SELECT COUNT(*) FROM certificates WHERE event_id = $1`, eventID))
}
