package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_NowStandsStill(t *testing.T) {
	clk := NewFake(epoch)
	assert.Equal(t, epoch, clk.Now())
	assert.Equal(t, epoch, clk.Now())
}

func TestFake_Advance(t *testing.T) {
	clk := NewFake(epoch)
	clk.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), clk.Now())
}

func TestFake_SetIgnoresBackwards(t *testing.T) {
	clk := NewFake(epoch)
	clk.Set(epoch.Add(-time.Hour))
	assert.Equal(t, epoch, clk.Now())
}

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	clk := NewFake(epoch)
	ch := clk.After(time.Second)
	assert.Equal(t, 1, clk.Waiters())

	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	clk.Advance(999 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	clk.Advance(time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, clk.Waiters())
}

func TestFake_AfterNonPositiveIsImmediate(t *testing.T) {
	clk := NewFake(epoch)
	select {
	case got := <-clk.After(0):
		assert.Equal(t, epoch, got)
	default:
		t.Fatal("After(0) should be ready")
	}
	assert.Equal(t, 0, clk.Waiters())
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	assert.False(t, got.Before(before))
}
