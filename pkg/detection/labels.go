package detection

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Labels is a fixed ordered class-name table; index is the class id.
type Labels []string

// COCO contains the 80 COCO class names.
var COCO = Labels{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// Lookup returns the name for class i, or tensor.ErrDecode when i is out of range.
func (l Labels) Lookup(i int) (string, error) {
	if i < 0 || i >= len(l) {
		return "", fmt.Errorf("%w: class index %d outside label table of %d", tensor.ErrDecode, i, len(l))
	}
	return l[i], nil
}

// LoadLabels reads one class name per line. Blank lines are skipped.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(strings.TrimRight(sc.Text(), "\r"))
		if name == "" {
			continue
		}
		labels = append(labels, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
