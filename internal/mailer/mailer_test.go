package mailer

import (
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTPMailerValidation(t *testing.T) {
	_, err := NewSMTPMailer("", "587", "u", "p", "from@example.com")
	assert.Error(t, err)

	_, err = NewSMTPMailer("smtp.example.com", "587", "u", "p", "")
	assert.Error(t, err)
}

func TestSendBuildsMessage(t *testing.T) {
	m, err := NewSMTPMailer("smtp.example.com", "2525", "user", "pass", "noreply@example.com")
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		assert.NotNil(t, a)
		assert.Equal(t, "noreply@example.com", from)
		return nil
	}

	require.NoError(t, m.Send("ana@example.com", "Teste", "<p>Olá</p>"))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Teste\r\n")
	assert.Contains(t, string(gotMsg), "Content-Type: text/html; charset=UTF-8")
}

func TestSendRejectsMissingFields(t *testing.T) {
	m, err := NewSMTPMailer("smtp.example.com", "2525", "", "", "noreply@example.com")
	require.NoError(t, err)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return nil }

	assert.Error(t, m.Send("", "s", "b"))
	assert.Error(t, m.Send("ana@example.com", "", "b"))
}

func TestSendWrapsTransportError(t *testing.T) {
	m, err := NewSMTPMailer("smtp.example.com", "2525", "", "", "noreply@example.com")
	require.NoError(t, err)
	m.send = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		assert.Nil(t, a, "no auth without credentials")
		return errors.New("connection refused")
	}

	err = m.Send("ana@example.com", "s", "plain body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, string(buildMessage("a", "b", "c", "plain body")), "text/plain")
}
