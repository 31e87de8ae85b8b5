package bagplay

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
)

// CheckExtension verifies the file carries the .bag extension.  The reader
// refuses anything else; compressed inputs are decompressed upstream and
// handed over as a plain stream.
func CheckExtension(path string) error {
	if filepath.Ext(path) != BagExtension {
		return errors.Errorf("file %q does not have %s extension", path, BagExtension)
	}
	return nil
}

// ParseBanner scans a bag banner line of the form "#ROS<word> V<major>.<minor>".
// It returns ok=false when the line does not scan; callers decide between the
// V1.0 and V0.0 fallbacks based on the leading byte.
func ParseBanner(line string) (major, minor int, ok bool) {
	var word string
	n, err := fmt.Sscanf(line, "#ROS%s V%d.%d", &word, &major, &minor)
	if err != nil || n != 3 {
		return 0, 0, false
	}
	return major, minor, true
}
