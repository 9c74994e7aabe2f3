package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-intake/internal/app"
	"github.com/odyssey-erp/odyssey-intake/internal/masterdata"
	_ "github.com/odyssey-erp/odyssey-intake/testing"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	main()
}

func TestDispatchUnknownCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := dispatch(context.Background(), &app.Config{}, logger, []string{"frobnicate"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestEventPublisherNone(t *testing.T) {
	pub, closeFn, err := eventPublisher(&app.Config{EventsDriver: app.EventsNone})
	assert.NoError(t, err)
	assert.Nil(t, pub)
	closeFn()
}

func TestMasterDataSourceSelection(t *testing.T) {
	src := masterDataSource(&app.Config{MasterDataSource: app.MasterDataXLSX, MasterDataXLSXPath: "m.xlsx"}, nil)
	assert.IsType(t, (*masterdata.XLSXSource)(nil), src)
}
