package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const thumbnailSize = 512

type ThumbnailJob struct {
	ImageID  string
	Filename string
}

type OnThumbnail func(job ThumbnailJob, thumbName string)

// ThumbnailProcessor renders grid thumbnails in the background. It only
// reads image files and writes into its own directory; it never touches
// the metadata document.
type ThumbnailProcessor struct {
	jobs       chan ThumbnailJob
	wg         sync.WaitGroup
	imagesDir  string
	thumbDir   string
	maxWorkers int
	onComplete OnThumbnail
	log        logrus.FieldLogger
	once       sync.Once
}

func NewThumbnailProcessor(imagesDir, thumbDir string, maxWorkers int, onComplete OnThumbnail, log logrus.FieldLogger) (*ThumbnailProcessor, error) {
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}

	p := &ThumbnailProcessor{
		jobs:       make(chan ThumbnailJob, 100),
		imagesDir:  imagesDir,
		thumbDir:   thumbDir,
		maxWorkers: maxWorkers,
		onComplete: onComplete,
		log:        log,
	}

	p.startWorkers()
	return p, nil
}

// ThumbnailName maps an image file to its thumbnail file.
func ThumbnailName(filename string) string {
	return "thumb_" + strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg"
}

func (p *ThumbnailProcessor) startWorkers() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *ThumbnailProcessor) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		log := p.log.WithFields(logrus.Fields{"worker": id, "image_id": job.ImageID, "file": job.Filename})

		thumbName, err := p.createThumbnail(job)
		if err != nil {
			log.WithError(err).Warn("thumbnail failed")
			continue
		}
		log.Debug("thumbnail ready")

		if p.onComplete != nil {
			p.onComplete(job, thumbName)
		}
	}
}

func (p *ThumbnailProcessor) createThumbnail(job ThumbnailJob) (string, error) {
	src, err := imaging.Open(filepath.Join(p.imagesDir, job.Filename))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	thumb := imaging.Fill(src, thumbnailSize, thumbnailSize, imaging.Center, imaging.Lanczos)

	name := ThumbnailName(job.Filename)
	if err := imaging.Save(thumb, filepath.Join(p.thumbDir, name), imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return name, nil
}

// Queue drops the job when the queue is full; the grid falls back to the full image.
func (p *ThumbnailProcessor) Queue(job ThumbnailJob) {
	select {
	case p.jobs <- job:
	default:
		p.log.WithField("image_id", job.ImageID).Warn("thumbnail queue full, skipping")
	}
}

// Shutdown drains the queue and waits for the workers.
func (p *ThumbnailProcessor) Shutdown() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}
