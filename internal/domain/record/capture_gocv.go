//go:build gocv

package record

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

const videoCodec = "XVID"

// captureDual records both cameras side by side into one AVI file. Frames
// are written at the requested rate into a temporary file first; when the
// session stops, the file is re-encoded at the rate actually achieved so
// playback speed matches wall time.
func captureDual(cfg config.RecordConfig, logger *utils.Logger, stop <-chan struct{}) (string, error) {
	if len(cfg.Cameras) != 2 {
		return "", fmt.Errorf("dual capture needs exactly 2 cameras, configured %d", len(cfg.Cameras))
	}

	saveDir, err := resolveSaveDir(cfg.SaveDir)
	if err != nil {
		return "", fmt.Errorf("prepare save directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	tempPath := filepath.Join(saveDir, timestamp+"_temp.avi")
	finalPath := filepath.Join(saveDir, timestamp+".avi")

	cam0, err := openCamera(cfg.Cameras[0], cfg)
	if err != nil {
		return "", err
	}
	defer cam0.Close()

	cam1, err := openCamera(cfg.Cameras[1], cfg)
	if err != nil {
		return "", err
	}
	defer cam1.Close()

	// 摄像头稳定时间
	time.Sleep(time.Second)

	combinedWidth := cfg.Width * 2
	writer, err := gocv.VideoWriterFile(tempPath, videoCodec, cfg.FPS, combinedWidth, cfg.Height, true)
	if err != nil {
		return "", fmt.Errorf("open temporary writer: %w", err)
	}

	frame0 := gocv.NewMat()
	defer frame0.Close()
	frame1 := gocv.NewMat()
	defer frame1.Close()
	combined := gocv.NewMat()
	defer combined.Close()

	frameInterval := time.Duration(float64(time.Second) / cfg.FPS)
	var frameCount int64
	start := time.Now()

loop:
	for {
		select {
		case <-stop:
			break loop
		default:
		}

		loopStart := time.Now()

		if !cam0.Read(&frame0) || !cam1.Read(&frame1) || frame0.Empty() || frame1.Empty() {
			logger.WarnTag("RECORD", "frame drop detected, retrying")
			select {
			case <-stop:
				break loop
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		fitFrame(&frame0, cfg.Width, cfg.Height)
		fitFrame(&frame1, cfg.Width, cfg.Height)

		// 左侧摄像头1，右侧摄像头0
		gocv.Hconcat(frame1, frame0, &combined)
		if err := writer.Write(combined); err != nil {
			writer.Close()
			os.Remove(tempPath)
			return "", fmt.Errorf("write frame: %w", err)
		}
		frameCount++

		if remaining := frameInterval - time.Since(loopStart); remaining > 0 {
			select {
			case <-stop:
				break loop
			case <-time.After(remaining):
			}
		}
	}

	if err := writer.Close(); err != nil {
		logger.WarnTag("RECORD", "closing temporary writer: %v", err)
	}

	elapsed := time.Since(start)
	if frameCount == 0 {
		os.Remove(tempPath)
		return "", fmt.Errorf("no frames recorded in %v", elapsed)
	}

	realFPS := float64(frameCount) / elapsed.Seconds()
	logger.InfoTag("RECORD", "recorded %d frames in %.1fs, actual fps %.2f",
		frameCount, elapsed.Seconds(), realFPS)

	if err := reencode(tempPath, finalPath, realFPS); err != nil {
		return "", fmt.Errorf("re-encode video: %w", err)
	}
	if err := os.Remove(tempPath); err != nil {
		logger.WarnTag("RECORD", "removing temporary file: %v", err)
	}
	return finalPath, nil
}

func openCamera(id int, cfg config.RecordConfig) (*gocv.VideoCapture, error) {
	cam, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", id, err)
	}
	cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cam.Set(gocv.VideoCaptureFPS, cfg.FPS)
	if !cam.IsOpened() {
		cam.Close()
		return nil, fmt.Errorf("camera %d did not open", id)
	}
	return cam, nil
}

func fitFrame(frame *gocv.Mat, width, height int) {
	if frame.Cols() == width && frame.Rows() == height {
		return
	}
	gocv.Resize(*frame, frame, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
}

// reencode copies every frame of the temporary file into the final one at
// the measured frame rate.
func reencode(inputPath, outputPath string, fps float64) error {
	src, err := gocv.VideoCaptureFile(inputPath)
	if err != nil {
		return fmt.Errorf("open temporary file: %w", err)
	}
	defer src.Close()

	width := int(src.Get(gocv.VideoCaptureFrameWidth))
	height := int(src.Get(gocv.VideoCaptureFrameHeight))

	writer, err := gocv.VideoWriterFile(outputPath, videoCodec, fps, width, height, true)
	if err != nil {
		return fmt.Errorf("open final writer: %w", err)
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	for src.Read(&frame) {
		if frame.Empty() {
			continue
		}
		if err := writer.Write(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}
