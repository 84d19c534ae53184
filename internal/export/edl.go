package export

import (
	"fmt"
	"math"
	"strings"
)

// EDL is a CMX3600 edit decision list of the selected segments, so an editor
// can rebuild the summary the annotator chose.
type EDL struct {
	Title     string
	FrameRate float64
	Clips     []Clip
}

func (e EDL) fps() int {
	fps := int(math.Round(e.FrameRate))
	if fps <= 0 {
		return 30
	}
	return fps
}

func (e EDL) dropFrame() bool {
	return math.Abs(e.FrameRate-29.97) < 0.01 || math.Abs(e.FrameRate-59.94) < 0.01
}

func (e EDL) String() string {
	fps := e.fps()

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", e.Title)
	if e.dropFrame() {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	record := 0
	for i, c := range e.Clips {
		length := c.EndMs - c.StartMs
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n", i+1, "AX", "V",
			Timecode(c.StartMs, fps), Timecode(c.EndMs, fps),
			Timecode(record, fps), Timecode(record+length, fps))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", c.Name)
		fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", c.MediaPath)
		record += length
	}
	return b.String()
}

// Timecode renders ms as HH:MM:SS:FF at fps frames per second.
func Timecode(ms, fps int) string {
	frames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60, ff)
}
