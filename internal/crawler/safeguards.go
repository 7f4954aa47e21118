package crawler

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// SafeProcessor wraps page processing with panic recovery so one bad page
// cannot take down a wave.
type SafeProcessor struct {
	logger     logrus.FieldLogger
	panicCount atomic.Int64
}

// NewSafeProcessor creates a safe processor wrapper
func NewSafeProcessor(logger logrus.FieldLogger) *SafeProcessor {
	return &SafeProcessor{logger: logger}
}

// Process runs fn for item. A panic is recorded as an error result for the item.
func (sp *SafeProcessor) Process(item types.FrontierItem, fn func() *pageOutcome) (out *pageOutcome) {
	defer func() {
		if r := recover(); r != nil {
			sp.panicCount.Add(1)

			sp.logger.WithFields(logrus.Fields{
				"url":   item.URL,
				"depth": item.Depth,
				"stack": string(debug.Stack()),
			}).Errorf("panic during processing: %v", r)

			out = &pageOutcome{
				result: types.PageResult{
					URL:    item.URL,
					Origin: originOf(item),
					Depth:  item.Depth,
					Error:  fmt.Sprintf("panic during processing: %v", r),
				},
			}
		}
	}()

	return fn()
}

// PanicCount returns total number of panics recovered
func (sp *SafeProcessor) PanicCount() int64 {
	return sp.panicCount.Load()
}
