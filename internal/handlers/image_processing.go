package handlers

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// saveUpload writes the posted bytes under the uploads directory. The name
// combines the content hash with the session so identical photos do not collide.
func (h *Handler) saveUpload(fileData []byte, filename, sessionID string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	imageFilename := fmt.Sprintf("%s_%s%s", dataMD5(fileData), sessionID, ext)
	imageFilePath := filepath.Join(h.uploadsDir, imageFilename)

	if err := os.WriteFile(imageFilePath, fileData, 0644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	width, height, err := getImageDimensions(imageFilePath)
	if err != nil {
		slog.Warn("Failed to get image dimensions", "filename", imageFilename, "error", err)
	}
	slog.Info("Image saved", "filename", imageFilename, "width", width, "height", height)

	return imageFilePath, nil
}

func dataMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func getImageDimensions(imagePath string) (int, int, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	img, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}

	return img.Width, img.Height, nil
}
