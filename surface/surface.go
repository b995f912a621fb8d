// Package surface implements the per-surface committed-state machine:
// buffer attachment, damage accumulation, sub-surface trees, and role
// assignment.
package surface

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/internal/xslices"
	"deedles.dev/wlcomp/region"
)

var (
	ErrRoleConflict     = errors.New("surface already has another role")
	ErrBufferDestroyed  = errors.New("attached buffer was destroyed")
	ErrInvalidScale     = errors.New("invalid buffer scale")
	ErrInvalidTransform = errors.New("invalid buffer transform")
	ErrBadParent        = errors.New("invalid sub-surface parent")
	ErrNotSibling       = errors.New("surface is not a sibling or the parent")
)

// ID is a compositor-wide surface identifier.
type ID uint64

// SyncPolicy decides when a sub-surface's commits are cached until its
// parent commits.
type SyncPolicy int

const (
	// SyncProtocol follows wl_subsurface.set_sync and set_desync,
	// with synchronization inherited from ancestors.
	SyncProtocol SyncPolicy = iota
	// SyncAlways treats every sub-surface as synchronized.
	SyncAlways
	// SyncNever applies every sub-surface commit immediately.
	SyncNever
)

func ParseSyncPolicy(str string) (SyncPolicy, error) {
	switch str {
	case "", "protocol":
		return SyncProtocol, nil
	case "always":
		return SyncAlways, nil
	case "never":
		return SyncNever, nil
	default:
		return 0, fmt.Errorf("unknown sub-surface sync policy %q", str)
	}
}

func (p SyncPolicy) String() string {
	switch p {
	case SyncProtocol:
		return "protocol"
	case SyncAlways:
		return "always"
	case SyncNever:
		return "never"
	default:
		return fmt.Sprintf("SyncPolicy(%d)", int(p))
	}
}

// Role gives a surface its meaning, such as a toplevel window or a
// sub-surface. A surface can only ever have roles of a single kind.
type Role interface {
	RoleName() string
	// Committed is called after new state has been applied.
	Committed(s *Surface)
}

// PreCommitter is implemented by roles that may reject a commit.
type PreCommitter interface {
	PreCommit(s *Surface) error
}

// Surface is a rectangle of client-controlled pixel content.
type Surface struct {
	id     ID
	owner  buffer.Owner
	object uint32
	table  *buffer.Table
	policy SyncPolicy

	pending   state
	cached    state
	hasCached bool

	buffer    buffer.ID
	scale     int
	transform region.Transform
	offset    image.Point
	opaque    region.Region
	input     *region.Region
	size      image.Point
	prevSize  image.Point

	damage    region.Region
	callbacks []Callback

	role     Role
	roleName string

	sub          *Subsurface
	order        []*Surface
	pendingOrder []*Surface

	outputs []uint64

	destroyed bool
	onCommit  []func(*Surface)
	onDestroy []func(*Surface)
}

// New creates a surface. object is the client's ID for it.
func New(id ID, owner buffer.Owner, object uint32, table *buffer.Table, policy SyncPolicy) *Surface {
	s := Surface{
		id:     id,
		owner:  owner,
		object: object,
		table:  table,
		policy: policy,
		scale:  1,
	}
	s.order = []*Surface{&s}
	s.pendingOrder = []*Surface{&s}
	return &s
}

func (s *Surface) ID() ID {
	return s.id
}

func (s *Surface) Owner() buffer.Owner {
	return s.owner
}

// Object returns the client's object ID for the surface.
func (s *Surface) Object() uint32 {
	return s.object
}

// OnCommit registers f to be called after every applied commit.
func (s *Surface) OnCommit(f func(*Surface)) {
	s.onCommit = append(s.onCommit, f)
}

// OnDestroy registers f to be called when the surface is destroyed.
func (s *Surface) OnDestroy(f func(*Surface)) {
	s.onDestroy = append(s.onDestroy, f)
}

// Attach sets the pending buffer. A zero id detaches.
func (s *Surface) Attach(id buffer.ID, dx, dy int) {
	s.pending.attached = true
	s.pending.buffer = id
	s.pending.offsetSet = true
	s.pending.offset = image.Pt(dx, dy)
}

// Damage adds a damaged rectangle in surface coordinates.
func (s *Surface) Damage(r image.Rectangle) {
	s.pending.damage.Add(r)
}

// DamageBuffer adds a damaged rectangle in buffer coordinates.
func (s *Surface) DamageBuffer(r image.Rectangle) {
	s.pending.bufferDamage.Add(r)
}

// Frame requests a callback for when the next committed content has
// been presented.
func (s *Surface) Frame(cb Callback) {
	s.pending.callbacks = append(s.pending.callbacks, cb)
}

func (s *Surface) SetOpaqueRegion(r region.Region) {
	s.pending.opaqueSet = true
	s.pending.opaque = r
}

// SetInputRegion sets the input region. A nil region accepts input
// everywhere on the surface.
func (s *Surface) SetInputRegion(r *region.Region) {
	s.pending.inputSet = true
	s.pending.input = r
}

func (s *Surface) SetBufferScale(scale int) error {
	if scale < 1 {
		return fmt.Errorf("scale %v: %w", scale, ErrInvalidScale)
	}
	s.pending.scaleSet = true
	s.pending.scale = scale
	return nil
}

func (s *Surface) SetBufferTransform(t region.Transform) error {
	if !t.Valid() {
		return fmt.Errorf("transform %v: %w", uint32(t), ErrInvalidTransform)
	}
	s.pending.transformSet = true
	s.pending.transform = t
	return nil
}

// PendingBuffer returns the buffer attached since the last commit, if
// any.
func (s *Surface) PendingBuffer() (buffer.ID, bool) {
	return s.pending.buffer, s.pending.attached
}

// Offset sets the pending buffer offset without attaching.
func (s *Surface) Offset(dx, dy int) {
	s.pending.offsetSet = true
	s.pending.offset = image.Pt(dx, dy)
}

// Commit atomically applies pending state. If the surface is a
// synchronized sub-surface, the state is cached until the parent
// commits instead.
func (s *Surface) Commit() error {
	if s.destroyed {
		return nil
	}

	if s.pending.attached && (s.pending.buffer != 0) && !s.table.Alive(s.pending.buffer) {
		s.pending.attached = false
		s.pending.buffer = 0
		return ErrBufferDestroyed
	}
	if pc, ok := s.role.(PreCommitter); ok {
		err := pc.PreCommit(s)
		if err != nil {
			return err
		}
	}

	if s.Synchronized() {
		s.cached.merge(&s.pending)
		s.hasCached = true
		s.pending = state{}
		return nil
	}

	if s.hasCached {
		s.cached.merge(&s.pending)
		s.applyCached()
	} else {
		s.apply(&s.pending)
	}
	s.pending = state{}
	return nil
}

func (s *Surface) applyCached() {
	st := s.cached
	s.cached = state{}
	s.hasCached = false
	s.apply(&st)
}

func (s *Surface) apply(st *state) {
	s.prevSize = s.size

	if st.scaleSet {
		s.scale = st.scale
	}
	if st.transformSet {
		s.transform = st.transform
	}

	s.offset = image.Point{}
	if st.offsetSet {
		s.offset = st.offset
	}
	if st.attached {
		id := st.buffer
		if (id != 0) && (s.table.Ref(id) != nil) {
			id = 0
		}
		old := s.buffer
		s.buffer = id
		if old != 0 {
			s.table.Unref(old)
		}
	}
	s.size = s.computeSize()

	if st.opaqueSet {
		s.opaque = st.opaque
	}
	if st.inputSet {
		s.input = st.input
	}

	damage := st.damage.Clone()
	if !st.bufferDamage.Empty() {
		damage.Union(s.bufferToSurface(st.bufferDamage))
	}
	if s.size != s.prevSize {
		damage.Add(image.Rectangle{Max: s.size})
	}
	damage.Intersect(image.Rectangle{Max: s.size})
	s.damage.Union(damage)

	s.callbacks = append(s.callbacks, st.callbacks...)

	s.order = slices.Clone(s.pendingOrder)
	for _, child := range s.order {
		if child == s {
			continue
		}
		if child.sub.posSet {
			child.sub.pos = child.sub.pendingPos
			child.sub.posSet = false
		}
	}

	if s.role != nil {
		s.role.Committed(s)
	}
	for _, f := range s.onCommit {
		f(s)
	}

	for _, child := range s.order {
		if (child != s) && child.hasCached && child.Synchronized() {
			child.applyCached()
		}
	}
}

func (s *Surface) computeSize() image.Point {
	if s.buffer == 0 {
		return image.Point{}
	}
	b, ok := s.table.Get(s.buffer)
	if !ok {
		return image.Point{}
	}
	w, h := s.transform.Size(b.Width, b.Height)
	return image.Pt(w/s.scale, h/s.scale)
}

func (s *Surface) bufferToSurface(r region.Region) region.Region {
	b, ok := s.table.Get(s.buffer)
	if !ok {
		return region.Region{}
	}
	out := s.transform.Invert().Region(r, b.Width, b.Height)
	if s.scale == 1 {
		return out
	}
	var scaled region.Region
	for _, rect := range out.Rects() {
		scaled.Add(region.ScaleRect(rect, 1, s.scale))
	}
	return scaled
}

// Buffer returns the currently committed buffer, or zero.
func (s *Surface) Buffer() buffer.ID {
	return s.buffer
}

// HasBuffer reports whether the surface has committed content. Only
// such surfaces are composited.
func (s *Surface) HasBuffer() bool {
	return s.buffer != 0
}

// Size returns the surface size in surface-local coordinates.
func (s *Surface) Size() image.Point {
	return s.size
}

// PreviousSize returns the size before the most recent commit.
func (s *Surface) PreviousSize() image.Point {
	return s.prevSize
}

func (s *Surface) Bounds() image.Rectangle {
	return image.Rectangle{Max: s.size}
}

func (s *Surface) Scale() int {
	return s.scale
}

func (s *Surface) Transform() region.Transform {
	return s.transform
}

// CommittedOffset returns the buffer offset of the most recent commit.
func (s *Surface) CommittedOffset() image.Point {
	return s.offset
}

func (s *Surface) OpaqueRegion() region.Region {
	return s.opaque.Clone()
}

// AcceptsInput reports whether a point in surface-local coordinates is
// inside the surface's input region.
func (s *Surface) AcceptsInput(p image.Point) bool {
	if !p.In(s.Bounds()) {
		return false
	}
	return (s.input == nil) || s.input.Contains(p)
}

// TakeDamage returns the damage accumulated since the last call and
// clears it.
func (s *Surface) TakeDamage() region.Region {
	d := s.damage
	s.damage = region.Region{}
	return d
}

// PeekDamage returns a copy of the accumulated damage.
func (s *Surface) PeekDamage() region.Region {
	return s.damage.Clone()
}

// TakeCallbacks returns the committed frame callbacks and clears them.
func (s *Surface) TakeCallbacks() []Callback {
	cbs := s.callbacks
	s.callbacks = nil
	return cbs
}

// ReturnCallbacks puts callbacks taken for a frame that was never
// presented back in front of any newer ones.
func (s *Surface) ReturnCallbacks(cbs []Callback) {
	if s.destroyed {
		return
	}
	s.callbacks = append(slices.Clip(cbs), s.callbacks...)
}

// HasCallbacks reports whether frame callbacks are waiting.
func (s *Surface) HasCallbacks() bool {
	return len(s.callbacks) > 0
}

// SetRole assigns a role. It fails with ErrRoleConflict if the surface
// already has an active role or ever had a role of another kind.
func (s *Surface) SetRole(r Role) error {
	if s.role != nil {
		return fmt.Errorf("%v while %v is active: %w", r.RoleName(), s.role.RoleName(), ErrRoleConflict)
	}
	if (s.roleName != "") && (s.roleName != r.RoleName()) {
		return fmt.Errorf("%v after %v: %w", r.RoleName(), s.roleName, ErrRoleConflict)
	}
	s.role = r
	s.roleName = r.RoleName()
	return nil
}

// ClearRole removes the active role object. The surface keeps its
// role kind.
func (s *Surface) ClearRole() {
	s.role = nil
}

func (s *Surface) Role() Role {
	return s.role
}

// RoleName returns the kind of role the surface has ever had.
func (s *Surface) RoleName() string {
	return s.roleName
}

// Enter records that the surface is visible on an output. It reports
// whether this is new.
func (s *Surface) Enter(output uint64) bool {
	if slices.Contains(s.outputs, output) {
		return false
	}
	s.outputs = append(s.outputs, output)
	return true
}

// Leave records that the surface is no longer visible on an output.
// It reports whether it had been.
func (s *Surface) Leave(output uint64) bool {
	if !slices.Contains(s.outputs, output) {
		return false
	}
	s.outputs = xslices.Remove(s.outputs, output)
	return true
}

func (s *Surface) Outputs() []uint64 {
	return slices.Clone(s.outputs)
}

func (s *Surface) Destroyed() bool {
	return s.destroyed
}

// Destroy destroys the surface, detaching its sub-surfaces, leaving
// its parent, and dropping its buffer reference. In-flight frames keep
// their own references.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true

	for _, f := range s.onDestroy {
		f(s)
	}

	for _, child := range s.children() {
		child.sub.unlink()
	}
	if s.sub != nil {
		s.sub.unlink()
	}

	if s.buffer != 0 {
		s.table.Unref(s.buffer)
		s.buffer = 0
	}
	s.callbacks = nil
	s.pending = state{}
	s.cached = state{}
	s.hasCached = false
	s.role = nil
}

func (s *Surface) children() []*Surface {
	var children []*Surface
	seen := make(map[*Surface]struct{})
	for _, list := range [][]*Surface{s.order, s.pendingOrder} {
		for _, c := range list {
			if c == s {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			children = append(children, c)
		}
	}
	return children
}

// Walk calls f for s and every visible sub-surface below it, bottom to
// top, with each surface's offset from s. A surface without a buffer
// hides its whole sub-tree. It stops early and returns false if f
// does.
func (s *Surface) Walk(f func(s *Surface, offset image.Point) bool) bool {
	return s.walk(image.Point{}, f)
}

func (s *Surface) walk(offset image.Point, f func(*Surface, image.Point) bool) bool {
	if !s.HasBuffer() {
		return true
	}
	for _, c := range s.order {
		if c == s {
			if !f(s, offset) {
				return false
			}
			continue
		}
		if !c.walk(offset.Add(c.sub.pos), f) {
			return false
		}
	}
	return true
}

// TreeBounds returns the bounds of s and its visible sub-surfaces,
// relative to s.
func (s *Surface) TreeBounds() image.Rectangle {
	var b image.Rectangle
	s.Walk(func(c *Surface, offset image.Point) bool {
		b = b.Union(c.Bounds().Add(offset))
		return true
	})
	return b
}

// Parent returns the parent of a sub-surface, or nil.
func (s *Surface) Parent() *Surface {
	if s.sub == nil {
		return nil
	}
	return s.sub.parent
}

// Root follows parents to the top of the sub-surface tree.
func (s *Surface) Root() *Surface {
	for s.Parent() != nil {
		s = s.Parent()
	}
	return s
}

// Position returns the offset of a sub-surface from its parent.
func (s *Surface) Position() image.Point {
	if s.sub == nil {
		return image.Point{}
	}
	return s.sub.pos
}

// Synchronized reports whether commits to s are cached until its
// parent commits.
func (s *Surface) Synchronized() bool {
	if s.sub == nil {
		return false
	}
	switch s.policy {
	case SyncNever:
		return false
	case SyncAlways:
		return true
	}
	for p := s; p.sub != nil; p = p.sub.parent {
		if p.sub.sync {
			return true
		}
	}
	return false
}
