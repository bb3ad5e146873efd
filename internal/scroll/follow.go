// Package scroll decides whether the conversation view follows newly revealed
// content or stays where the user scrolled to.
package scroll

// Controller tracks the user's scroll position relative to the content.
// It is not safe for concurrent use; the UI loop owns it.
type Controller struct {
	threshold float64

	userScrolling bool
	autoScroll    bool

	lastOffset     float64
	contentHeight  float64
	viewportHeight float64
}

// NewController creates a controller that treats offsets within threshold of
// the bottom as "at the bottom".
func NewController(threshold float64) *Controller {
	if threshold < 0 {
		threshold = 0
	}
	return &Controller{
		threshold:  threshold,
		autoScroll: true,
	}
}

// OnScroll records a scroll event. offset is the distance of the viewport's
// top edge from the top of the content.
func (c *Controller) OnScroll(offset, contentHeight, viewportHeight float64) {
	if offset < c.lastOffset {
		c.userScrolling = true
		c.autoScroll = false
	}

	c.lastOffset = offset
	c.contentHeight = contentHeight
	c.viewportHeight = viewportHeight

	if c.nearBottom() {
		c.userScrolling = false
		c.autoScroll = true
	}
}

// OnContentSizeChange records a new content height and reports whether the
// view should scroll to the end.
func (c *Controller) OnContentSizeChange(contentHeight float64, streaming bool) bool {
	c.contentHeight = contentHeight
	return !c.userScrolling && (!streaming || c.autoScroll)
}

// OnViewportResize records a new viewport height.
func (c *Controller) OnViewportResize(viewportHeight float64) {
	c.viewportHeight = viewportHeight
}

// Follow records that the view was moved to the end programmatically.
func (c *Controller) Follow(offset float64) {
	c.lastOffset = offset
}

// Reset restores auto-follow, used when the conversation is cleared.
func (c *Controller) Reset() {
	c.userScrolling = false
	c.autoScroll = true
	c.lastOffset = 0
	c.contentHeight = 0
}

// UserScrolling reports whether the user has taken manual control.
func (c *Controller) UserScrolling() bool { return c.userScrolling }

// AutoScroll reports whether new content is followed.
func (c *Controller) AutoScroll() bool { return c.autoScroll }

func (c *Controller) nearBottom() bool {
	return c.lastOffset+c.viewportHeight >= c.contentHeight-c.threshold
}
