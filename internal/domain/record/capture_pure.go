//go:build !gocv

package record

import (
	"errors"

	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

// captureDual needs OpenCV camera access, which only the gocv build carries.
func captureDual(cfg config.RecordConfig, logger *utils.Logger, stop <-chan struct{}) (string, error) {
	return "", errors.New("record: camera capture requires a build with the gocv tag")
}
