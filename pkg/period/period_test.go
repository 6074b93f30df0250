package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReferenceMidMonth(t *testing.T) {
	p := Reference(time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "01/08/2026", p.StartString())
	assert.Equal(t, "19/08/2026", p.EndString())
}

func TestReferenceLastDayOfMonth(t *testing.T) {
	p := Reference(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "01/07/2026", p.StartString())
	assert.Equal(t, "31/07/2026", p.EndString())
}

func TestReferenceLastDayOfJanuary(t *testing.T) {
	p := Reference(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "01/12/2025", p.StartString())
	assert.Equal(t, "31/12/2025", p.EndString())
}

func TestReferenceLeapFebruary(t *testing.T) {
	p := Reference(time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "01/01/2028", p.StartString())
	assert.Equal(t, "31/01/2028", p.EndString())

	p = Reference(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "01/03/2026", p.StartString())
	assert.Equal(t, "01/03/2026", p.EndString())
}
