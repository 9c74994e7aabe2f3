package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BLOB_SIGNING_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, MasterDataPostgres, cfg.MasterDataSource)
	assert.Equal(t, "master_data", cfg.MasterDataTable)
	assert.Equal(t, 1000, cfg.DOLookback)
	assert.Equal(t, 3, cfg.SubmitMaxAttempts)
	assert.False(t, cfg.SubmitLockEnabled)
	assert.Equal(t, 15*time.Minute, cfg.AttachmentLinkTTL)
	assert.Equal(t, EventsAsynq, cfg.EventsDriver)
	assert.False(t, cfg.IsProduction())

	sc := cfg.Storage()
	assert.Equal(t, "local", sc.Driver)
	assert.Equal(t, "s3cret", sc.SigningSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"local driver needs secret", map[string]string{"BLOB_DRIVER": "local", "BLOB_SIGNING_SECRET": ""}},
		{"s3 needs bucket", map[string]string{"BLOB_DRIVER": "s3", "BLOB_BUCKET": ""}},
		{"unknown blob driver", map[string]string{"BLOB_DRIVER": "ftp", "BLOB_SIGNING_SECRET": "x"}},
		{"xlsx needs path", map[string]string{"MASTERDATA_SOURCE": "xlsx", "BLOB_SIGNING_SECRET": "x"}},
		{"unknown events driver", map[string]string{"EVENTS_DRIVER": "nats", "BLOB_SIGNING_SECRET": "x"}},
		{"attempts positive", map[string]string{"SUBMIT_MAX_ATTEMPTS": "0", "BLOB_SIGNING_SECRET": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigNormalisesDrivers(t *testing.T) {
	t.Setenv("BLOB_DRIVER", " GCS ")
	t.Setenv("BLOB_BUCKET", "orders")
	t.Setenv("EVENTS_DRIVER", "Kafka")
	t.Setenv("MASTERDATA_SOURCE", "XLSX")
	t.Setenv("MASTERDATA_XLSX_PATH", "/data/master.xlsx")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.BlobDriver)
	assert.Equal(t, EventsKafka, cfg.EventsDriver)
	assert.Equal(t, MasterDataXLSX, cfg.MasterDataSource)
}
