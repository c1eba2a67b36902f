package markpad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvents lets tests fire UI events by hand.
type fakeEvents struct {
	toggle func(bool)
	keyUp  func()
}

func (e *fakeEvents) OnToggle(fn func(bool)) { e.toggle = fn }
func (e *fakeEvents) OnKeyUp(fn func())      { e.keyUp = fn }

func TestBindRoutesEvents(t *testing.T) {
	s := &fakeSurface{source: "# Hi"}
	c := newTestController(t, s)
	ev := &fakeEvents{}

	Bind(ev, c)
	require.NotNil(t, ev.toggle)
	require.NotNil(t, ev.keyUp)

	ev.keyUp()
	assert.Empty(t, s.content)

	ev.toggle(true)
	assert.Equal(t, "<h1>Hi</h1>", s.content)

	s.source = "**b**"
	ev.keyUp()
	assert.Equal(t, "<p><strong>b</strong></p>", s.content)

	ev.toggle(false)
	s.source = "ignored"
	ev.keyUp()
	assert.Equal(t, "<p><strong>b</strong></p>", s.content)
	assert.False(t, s.visible)
}

func TestBindReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSurface{source: "x"}
	c, err := New(s, RendererFunc(func(string) (string, error) { return "", boom }))
	require.NoError(t, err)

	var got []error
	ev := &fakeEvents{}
	Bind(ev, c, WithErrorHandler(func(err error) { got = append(got, err) }))

	ev.toggle(true)
	ev.keyUp()

	require.Len(t, got, 2)
	for _, err := range got {
		assert.ErrorIs(t, err, boom)
	}
}
