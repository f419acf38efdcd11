package email

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/hospital-api/internal/model"
)

func alertEntry() *model.AuditEntry {
	actor := uuid.MustParse("6f1c1c1e-7a35-4a64-9d0a-0f7d1a1b2c3d")
	resource := "42"
	return &model.AuditEntry{
		ID:           "01HV0000000000000000000000",
		ActorID:      &actor,
		Action:       model.ActionUnauthorizedResourceAccess,
		ResourceType: model.ResourcePatient,
		ResourceID:   &resource,
		IPAddress:    "10.0.0.7",
		Context:      model.JSONMap{"role": "patient", "reason": "ownership"},
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderAlert(t *testing.T) {
	subject, body := renderAlert(alertEntry())

	assert.Equal(t, "[security] UNAUTHORIZED_RESOURCE_ACCESS on PACIENTE", subject)
	assert.Contains(t, body, "Resource:   PACIENTE 42\n")
	assert.Contains(t, body, "Actor:      6f1c1c1e-7a35-4a64-9d0a-0f7d1a1b2c3d\n")
	assert.Contains(t, body, "When:       2024-03-01T12:00:00Z\n")
	assert.Contains(t, body, "  reason: ownership\n  role: patient\n")
}

func TestSendSecurityAlert(t *testing.T) {
	var sent []*gomail.Message
	svc := &SMTPService{
		from: "alerts@hospital.example",
		send: func(msgs ...*gomail.Message) error {
			sent = append(sent, msgs...)
			return nil
		},
	}

	err := svc.SendSecurityAlert(context.Background(), []string{"sec@hospital.example", "dpo@hospital.example"}, alertEntry())
	require.NoError(t, err)
	require.Len(t, sent, 1)

	m := sent[0]
	assert.Equal(t, []string{"alerts@hospital.example"}, m.GetHeader("From"))
	assert.Equal(t, []string{"sec@hospital.example", "dpo@hospital.example"}, m.GetHeader("To"))

	var raw bytes.Buffer
	_, err = m.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "IP address: 10.0.0.7")
}

func TestSendSecurityAlert_NoRecipients(t *testing.T) {
	svc := &SMTPService{send: func(...*gomail.Message) error {
		t.Fatal("nothing should be sent")
		return nil
	}}
	assert.NoError(t, svc.SendSecurityAlert(context.Background(), nil, alertEntry()))
}

func TestSendSecurityAlert_WrapsSendError(t *testing.T) {
	boom := errors.New("connection refused")
	svc := &SMTPService{send: func(...*gomail.Message) error { return boom }}

	err := svc.SendSecurityAlert(context.Background(), []string{"sec@hospital.example"}, alertEntry())
	assert.ErrorIs(t, err, boom)
}
