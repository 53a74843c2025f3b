package services

import (
	"context"
	"fmt"
	"path/filepath"

	"imagevault/internal/store"

	"github.com/sirupsen/logrus"
)

// EditResult tells the caller which file holds the new version and whether
// it is a real edit or an unchanged fallback copy.
type EditResult struct {
	Filename string
	Fallback bool
	Cause    error
}

// EditOrchestrator applies edits through the provider and degrades to a
// byte-identical copy of the base image when the provider fails.
type EditOrchestrator struct {
	editor ImageEditor
	files  *store.FileStore
	log    logrus.FieldLogger
}

func NewEditOrchestrator(editor ImageEditor, files *store.FileStore, log logrus.FieldLogger) *EditOrchestrator {
	return &EditOrchestrator{editor: editor, files: files, log: log}
}

// ApplyEdit only returns an error when local storage fails.
func (o *EditOrchestrator) ApplyEdit(ctx context.Context, baseFilename, prompt string) (EditResult, error) {
	base, err := o.files.Get(ctx, baseFilename)
	if err != nil {
		return EditResult{}, fmt.Errorf("read base image: %w", err)
	}

	edited, cause := o.editor.Edit(ctx, base, prompt)
	if cause == nil && len(edited) == 0 {
		cause = ErrEmptyEdit
	}

	if cause == nil {
		name := store.EditName(".png")
		if err := o.files.Save(ctx, name, edited); err != nil {
			return EditResult{}, fmt.Errorf("save edited image: %w", err)
		}
		return EditResult{Filename: name}, nil
	}

	o.log.WithError(cause).WithFields(logrus.Fields{
		"base":   baseFilename,
		"prompt": prompt,
	}).Warn("image edit failed, storing unchanged copy")

	name := store.EditName(filepath.Ext(baseFilename))
	if err := o.files.Copy(ctx, baseFilename, name); err != nil {
		return EditResult{}, fmt.Errorf("copy base image: %w", err)
	}
	return EditResult{Filename: name, Fallback: true, Cause: cause}, nil
}
