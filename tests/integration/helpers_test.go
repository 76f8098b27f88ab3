package integration

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/fiapx/fiapx-ocr-service/internal/infra/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func terminate(t *testing.T, c testcontainers.Container) {
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
}

// startPostgres runs a migrated database and returns a pool on it.
func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("ocr"),
		tcpostgres.WithUsername("ocr_user"),
		tcpostgres.WithPassword("ocr_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	terminate(t, pgContainer)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func startRabbitMQ(ctx context.Context, t *testing.T) string {
	t.Helper()
	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	terminate(t, rmqContainer)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)
	return rmqURL
}

func startMinIO(ctx context.Context, t *testing.T) string {
	t.Helper()
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	terminate(t, minioContainer)

	endpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)
	return endpoint
}

// makeTestVideo renders a short synthetic clip with ffmpeg, skipping the test when
// ffmpeg is not installed.
func makeTestVideo(ctx context.Context, t *testing.T, seconds int) string {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	out := filepath.Join(t.TempDir(), "clip.mp4")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=size=160x120:rate=30:duration="+strconv.Itoa(seconds),
		"-pix_fmt", "yuv420p", "-y", out,
	)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
	return out
}
