package port

import "image"

type ImageStore interface {
	LoadImage(path string) (image.Image, error)
	SaveImage(path string, img image.Image) error
}
