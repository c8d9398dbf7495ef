package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"school-notify-backend/internal/store"
)

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestWriteSignatureReportSurfacesWriteErrors(t *testing.T) {
	rows := []store.DeliveryRow{
		{TeacherName: "Alice", RoleLabel: "teacher", Phone: "0512345678"},
	}

	err := writeSignatureReport(brokenWriter{}, rows)
	assert.Error(t, err)
}
