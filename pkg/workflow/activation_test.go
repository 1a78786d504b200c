package workflow

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivationService(t *testing.T) {
	h := newHarness(t)
	service := NewActivationService(h.p, 20, slog.New(slog.DiscardHandler))

	valid := h.saveAutomation("valid", message(map[string]string{"en": "hi"}), models.WaitConfig{DelayMinutes: 5})
	require.NoError(t, h.p.AutomationRepository().SetAutomationActive(h.ctx, valid.ID, false))

	automation, err := service.Activate(h.ctx, valid.ID)
	require.NoError(t, err)
	assert.True(t, automation.IsActive)

	active, err := h.p.AutomationRepository().ActiveAutomationsByTrigger(h.ctx, "subscriber.signed_up")
	require.NoError(t, err)
	require.Len(t, active, 1)

	automation, err = service.Deactivate(h.ctx, valid.ID)
	require.NoError(t, err)
	assert.False(t, automation.IsActive)

	active, err = h.p.AutomationRepository().ActiveAutomationsByTrigger(h.ctx, "subscriber.signed_up")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestActivationService_RejectsInvalidAutomations(t *testing.T) {
	h := newHarness(t)
	service := NewActivationService(h.p, 20, slog.New(slog.DiscardHandler))

	h.saveAutomation("too-long", message(map[string]string{"en": strings.Repeat("a", 21)}))
	require.NoError(t, h.p.AutomationRepository().SetAutomationActive(h.ctx, "too-long", false))

	_, err := service.Activate(h.ctx, "too-long")
	require.ErrorIs(t, err, models.ErrMessageTooLong)

	_, err = service.Activate(h.ctx, "missing")
	assert.True(t, persistence.IsAutomationNotFound(err))

	active, err := h.p.AutomationRepository().ActiveAutomationsByTrigger(h.ctx, "subscriber.signed_up")
	require.NoError(t, err)
	assert.Empty(t, active)
}
