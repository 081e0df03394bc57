package companyconfig

import (
	"context"
	stderrors "errors"
	"testing"

	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/messaging"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigChangedHandler_InvalidatesCompany(t *testing.T) {
	src := NewMemorySource(sampleConfig("acme"), sampleConfig("globex"))
	loader := NewLoader(src, logger.NewNoOpLogger())
	ctx := context.Background()

	_, err := loader.Load(ctx, "globex")
	require.NoError(t, err)

	handle := messaging.JSONHandler(ConfigChangedHandler(loader))
	err = handle(ctx, amqp.Delivery{Body: []byte(`{"eventId":"e-1","companyId":"acme","reason":"qa edited"}`)})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), loader.Generation("acme"))
	assert.Equal(t, uint64(0), loader.Generation("globex"))
}

func TestConfigChangedHandler_MissingCompanyIsPoison(t *testing.T) {
	loader := NewLoader(NewMemorySource(), logger.NewNoOpLogger())
	handle := messaging.JSONHandler(ConfigChangedHandler(loader))

	err := handle(context.Background(), amqp.Delivery{Body: []byte(`{"eventId":"e-2"}`)})
	assert.True(t, stderrors.Is(err, messaging.ErrPoison))
}
