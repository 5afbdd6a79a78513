package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstants(t *testing.T) {
	assert.Equal(t, "active", StatusActive)
	assert.Equal(t, "revoked", StatusRevoked)
	assert.Equal(t, "pending", AnchorStatusPending)
	assert.Equal(t, "anchored", AnchorStatusAnchored)
	assert.Equal(t, "failed", AnchorStatusFailed)
	assert.Equal(t, "rejected", AnchorStatusRejected)
}

func TestAnchorStatusDrainable(t *testing.T) {
	assert.True(t, AnchorStatusDrainable(AnchorStatusPending))
	assert.True(t, AnchorStatusDrainable(AnchorStatusFailed))
	assert.False(t, AnchorStatusDrainable(AnchorStatusAnchored))
	assert.False(t, AnchorStatusDrainable(AnchorStatusRejected))
	assert.False(t, AnchorStatusDrainable(""))
}

func TestNewAnchorTask(t *testing.T) {
	c := &Certificate{
		ID:          "c-1",
		RawHash:     "raw",
		ContentHash: "content",
		ArtifactURL: "https://cdn/c-1.png",
	}
	task := NewAnchorTask(c)
	assert.Equal(t, "c-1", task.CertificateID)
	assert.Equal(t, c.ContentHash, task.TextDigest)
	assert.Equal(t, AnchorStatusPending, task.Status)
	assert.Zero(t, task.Attempts)
}

func TestValidCertificateStatus(t *testing.T) {
	assert.True(t, ValidCertificateStatus("active"))
	assert.True(t, ValidCertificateStatus("revoked"))
	assert.False(t, ValidCertificateStatus("deleted"))
	assert.False(t, ValidCertificateStatus(""))
}

func TestCertificate_IsActive(t *testing.T) {
	c := &Certificate{Status: StatusActive}
	assert.True(t, c.IsActive())
	c.Status = StatusRevoked
	assert.False(t, c.IsActive())
}
