//go:build !noebiten

package render

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/opd-ai/go-layersync/internal/geom"
)

// touchPoller keeps the touch id slices between ticks.
type touchPoller struct {
	ids      []ebiten.TouchID
	pressed  []ebiten.TouchID
	released []ebiten.TouchID
}

// pollInput reads ebiten's input state. It must run inside Update.
func (t *touchPoller) pollInput() InputSnapshot {
	cx, cy := ebiten.CursorPosition()
	wx, wy := ebiten.Wheel()
	in := InputSnapshot{
		Left:          ebiten.IsKeyPressed(ebiten.KeyArrowLeft),
		Right:         ebiten.IsKeyPressed(ebiten.KeyArrowRight),
		Up:            ebiten.IsKeyPressed(ebiten.KeyArrowUp),
		Down:          ebiten.IsKeyPressed(ebiten.KeyArrowDown),
		ZoomIn:        inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd),
		ZoomOut:       inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract),
		Ctrl:          ebiten.IsKeyPressed(ebiten.KeyControl),
		WheelX:        wx,
		WheelY:        wy,
		Cursor:        geom.PointF{X: float64(cx), Y: float64(cy)},
		MouseDown:     ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft),
		MousePressed:  inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft),
		MouseReleased: inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft),
	}

	t.ids = ebiten.AppendTouchIDs(t.ids[:0])
	t.pressed = inpututil.AppendJustPressedTouchIDs(t.pressed[:0])
	t.released = inpututil.AppendJustReleasedTouchIDs(t.released[:0])
	for _, id := range t.ids {
		x, y := ebiten.TouchPosition(id)
		in.Touches = append(in.Touches, TouchSample{
			ID:      int(id),
			X:       float64(x),
			Y:       float64(y),
			Pressed: containsTouch(t.pressed, id),
		})
	}
	for _, id := range t.released {
		x, y := inpututil.TouchPositionInPreviousTick(id)
		in.Touches = append(in.Touches, TouchSample{ID: int(id), X: float64(x), Y: float64(y), Released: true})
	}
	return in
}

func containsTouch(ids []ebiten.TouchID, id ebiten.TouchID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
