package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/repositories"
)

const (
	tempAddressPrefix   = "tmp-"
	deviceAddressPrefix = "device-"
	earthRadiusKM       = 6371.0
	maxAddressField     = 300
)

var (
	// ErrAddressInvalidInput indicates the address input failed validation.
	ErrAddressInvalidInput = errors.New("addresses: invalid input")
	// ErrAddressNotFound indicates no address carries the requested id.
	ErrAddressNotFound = errors.New("addresses: not found")
	// ErrAddressPending indicates the address is still being created remotely.
	ErrAddressPending = errors.New("addresses: write pending")
	// ErrAddressSyncFailed indicates a remote or cache write failed and local state was restored.
	ErrAddressSyncFailed = errors.New("addresses: sync failed")
)

var labelPreferences = []string{"Home", "Work"}

// ServiceArea is the circle inside which addresses are serviceable.
type ServiceArea struct {
	CenterLat float64
	CenterLng float64
	RadiusKM  float64
}

// Contains reports whether (lat, lng) lies within the area using the haversine distance.
func (a ServiceArea) Contains(lat, lng float64) bool {
	if a.RadiusKM <= 0 {
		return true
	}
	return haversineKM(a.CenterLat, a.CenterLng, lat, lng) <= a.RadiusKM
}

// AddressServiceDeps wires the remote collection and the device cache.
type AddressServiceDeps struct {
	Remote      repositories.AddressRepository
	Cache       repositories.AddressCache
	ServiceArea ServiceArea
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

// AddressSession identifies who owns the addresses: every caller has a device, signed-in
// callers also have a user id.
type AddressSession struct {
	DeviceID string
	UserID   string
}

// Authenticated reports whether the session has a user.
func (s AddressSession) Authenticated() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// AddressState is a consistent copy of the store.
type AddressState struct {
	Addresses []Address `json:"addresses"`
	Active    *Address  `json:"activeAddress"`
}

// AddressResult reports the outcome of a store mutation.
type AddressResult struct {
	Success bool
	Address *Address
	Error   error
}

func addressFailure(err error) AddressResult {
	return AddressResult{Success: false, Error: err}
}

type addressService struct {
	remote   repositories.AddressRepository
	cache    repositories.AddressCache
	area     ServiceArea
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
	sanitize *bluemonday.Policy
}

// NewAddressService constructs the address service.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Cache == nil {
		return nil, errors.New("address service: cache is required")
	}
	if deps.Remote == nil {
		return nil, errors.New("address service: remote repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &addressService{
		remote:   deps.Remote,
		cache:    deps.Cache,
		area:     deps.ServiceArea,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newID:    newID,
		sanitize: bluemonday.StrictPolicy(),
	}, nil
}

// Open bootstraps a store for the session.
func (s *addressService) Open(ctx context.Context, session AddressSession) (*AddressStore, error) {
	session.DeviceID = strings.TrimSpace(session.DeviceID)
	session.UserID = strings.TrimSpace(session.UserID)
	if session.DeviceID == "" && !session.Authenticated() {
		return nil, ErrAddressInvalidInput
	}
	store := &AddressStore{
		svc:     s,
		session: session,
		pending: make(map[string]pendingAddress),
	}
	if err := store.bootstrap(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

type pendingAddress struct {
	previousActiveID string
	becameActive     bool
}

// AddressStore holds the address list and the active address of one session. Local state is
// guarded by mu; remote calls run outside the lock.
type AddressStore struct {
	svc     *addressService
	session AddressSession

	mu        sync.Mutex
	addresses []domain.Address
	activeID  string
	pending   map[string]pendingAddress
}

func (st *AddressStore) bootstrap(ctx context.Context) error {
	svc := st.svc
	if !st.session.Authenticated() {
		cached, err := svc.cache.Load(ctx, st.session.DeviceID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAddressSyncFailed, err)
		}
		if cached != nil {
			addr := *cached
			addr.Selected = true
			st.addresses = []domain.Address{addr}
			st.activeID = addr.ID
		}
		return nil
	}

	list, err := svc.remote.List(ctx, st.session.UserID)
	if err != nil {
		svc.logger(ctx, "addresses.bootstrap.failed", map[string]any{"userId": st.session.UserID, "error": err.Error()})
		if st.session.DeviceID == "" {
			return fmt.Errorf("%w: %v", ErrAddressSyncFailed, err)
		}
		cached, cacheErr := svc.cache.Load(ctx, st.session.DeviceID)
		if cacheErr == nil && cached != nil {
			addr := *cached
			addr.Selected = true
			st.addresses = []domain.Address{addr}
			st.activeID = addr.ID
		}
		return nil
	}

	activeIdx := -1
	for i := range list {
		if list[i].Selected && activeIdx < 0 {
			activeIdx = i
			continue
		}
		list[i].Selected = false
	}
	if activeIdx < 0 && len(list) > 0 {
		activeIdx = 0
		list[0].Selected = true
	}
	st.addresses = list
	if activeIdx >= 0 {
		st.activeID = list[activeIdx].ID
		st.writeCache(ctx, &list[activeIdx])
	}
	return nil
}

// Snapshot returns a deep copy of the current state.
func (st *AddressStore) Snapshot() AddressState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked()
}

func (st *AddressStore) snapshotLocked() AddressState {
	state := AddressState{Addresses: append([]domain.Address{}, st.addresses...)}
	for i := range state.Addresses {
		if state.Addresses[i].ID == st.activeID && st.activeID != "" {
			active := state.Addresses[i]
			state.Active = &active
			break
		}
	}
	return state
}

// SaveAddress inserts a new address optimistically and reconciles it with the remote collection.
// A failed remote write removes the optimistic entry and restores the previous active address.
func (st *AddressStore) SaveAddress(ctx context.Context, input AddressInput) AddressResult {
	svc := st.svc
	addr, err := svc.normalise(input)
	if err != nil {
		return addressFailure(err)
	}
	tempID := tempAddressPrefix + svc.newID()
	addr.ID = tempID

	if !st.session.Authenticated() {
		return st.saveDeviceSlot(ctx, addr)
	}

	st.mu.Lock()
	addr.Label = assignLabel(st.labelsLocked(), input.Label)
	becameActive := len(st.addresses) == 0 || input.Selected
	record := pendingAddress{previousActiveID: st.activeID, becameActive: becameActive}
	if becameActive {
		for i := range st.addresses {
			st.addresses[i].Selected = false
		}
		addr.Selected = true
		st.activeID = tempID
	}
	st.addresses = append([]domain.Address{addr}, st.addresses...)
	st.pending[tempID] = record
	st.mu.Unlock()

	if becameActive {
		st.writeCache(ctx, &addr)
	}

	remoteInput := addr
	remoteInput.ID = ""
	saved, err := svc.remote.Create(ctx, st.session.UserID, remoteInput)
	if err != nil {
		svc.logger(ctx, "addresses.save.failed", map[string]any{"userId": st.session.UserID, "error": err.Error()})
		st.rollbackInsert(ctx, tempID)
		return addressFailure(fmt.Errorf("%w: %v", ErrAddressSyncFailed, err))
	}

	st.mu.Lock()
	delete(st.pending, tempID)
	siblings := make([]string, 0, len(st.addresses))
	for i := range st.addresses {
		if st.addresses[i].ID == tempID {
			st.addresses[i].ID = saved.ID
			st.addresses[i].Timestamp = saved.Timestamp
			saved = st.addresses[i]
			continue
		}
		if !isTempAddressID(st.addresses[i].ID) {
			siblings = append(siblings, st.addresses[i].ID)
		}
	}
	if st.activeID == tempID {
		st.activeID = saved.ID
	}
	for id, other := range st.pending {
		if other.previousActiveID == tempID {
			other.previousActiveID = saved.ID
			st.pending[id] = other
		}
	}
	stillActive := st.activeID == saved.ID
	st.mu.Unlock()

	switch {
	case becameActive && stillActive:
		st.writeCache(ctx, &saved)
		for _, id := range siblings {
			if err := svc.remote.SetSelected(ctx, st.session.UserID, id, false); err != nil {
				svc.logger(ctx, "addresses.unselect.failed", map[string]any{"addressId": id, "error": err.Error()})
			}
		}
	case becameActive:
		// A later selection won while this document was being created selected.
		if err := svc.remote.SetSelected(ctx, st.session.UserID, saved.ID, false); err != nil {
			svc.logger(ctx, "addresses.unselect.failed", map[string]any{"addressId": saved.ID, "error": err.Error()})
		}
	}

	svc.logger(ctx, "addresses.saved", map[string]any{"addressId": saved.ID, "label": saved.Label, "active": stillActive})
	return AddressResult{Success: true, Address: &saved}
}

func (st *AddressStore) saveDeviceSlot(ctx context.Context, addr domain.Address) AddressResult {
	addr.ID = deviceAddressPrefix + strings.TrimPrefix(addr.ID, tempAddressPrefix)
	addr.Label = assignLabel(nil, addr.Label)
	addr.Selected = true
	if err := st.svc.cache.Save(ctx, st.session.DeviceID, addr); err != nil {
		return addressFailure(fmt.Errorf("%w: %v", ErrAddressSyncFailed, err))
	}
	st.mu.Lock()
	st.addresses = []domain.Address{addr}
	st.activeID = addr.ID
	st.mu.Unlock()
	return AddressResult{Success: true, Address: &addr}
}

func (st *AddressStore) rollbackInsert(ctx context.Context, tempID string) {
	st.mu.Lock()
	record := st.pending[tempID]
	delete(st.pending, tempID)
	for i := range st.addresses {
		if st.addresses[i].ID == tempID {
			st.addresses = append(st.addresses[:i], st.addresses[i+1:]...)
			break
		}
	}
	var active *domain.Address
	if st.activeID == tempID {
		st.activeID = ""
		if idx := st.indexLocked(record.previousActiveID); idx >= 0 {
			st.activeID = record.previousActiveID
		} else if len(st.addresses) > 0 {
			st.activeID = st.addresses[0].ID
		}
		for i := range st.addresses {
			st.addresses[i].Selected = st.addresses[i].ID == st.activeID
		}
		if idx := st.indexLocked(st.activeID); idx >= 0 {
			restored := st.addresses[idx]
			active = &restored
		}
		st.mu.Unlock()
		if active != nil {
			st.writeCache(ctx, active)
		} else {
			st.clearCache(ctx)
		}
		return
	}
	st.mu.Unlock()
}

// SetActiveAddressByID selects exactly one address across local state, the device cache and
// every remote sibling. If any write fails the applied writes are reverted.
func (st *AddressStore) SetActiveAddressByID(ctx context.Context, id string) AddressResult {
	svc := st.svc
	id = strings.TrimSpace(id)
	if id == "" {
		return addressFailure(ErrAddressInvalidInput)
	}

	st.mu.Lock()
	idx := st.indexLocked(id)
	if idx < 0 {
		st.mu.Unlock()
		return addressFailure(ErrAddressNotFound)
	}
	if _, pending := st.pending[id]; pending {
		st.mu.Unlock()
		return addressFailure(ErrAddressPending)
	}
	previous := make(map[string]bool, len(st.addresses))
	order := make([]string, 0, len(st.addresses))
	for _, addr := range st.addresses {
		previous[addr.ID] = addr.Selected
		order = append(order, addr.ID)
	}
	previousActiveID := st.activeID
	for i := range st.addresses {
		st.addresses[i].Selected = st.addresses[i].ID == id
	}
	st.activeID = id
	target := st.addresses[idx]
	st.mu.Unlock()

	restore := func() {
		st.mu.Lock()
		for i := range st.addresses {
			if selected, ok := previous[st.addresses[i].ID]; ok {
				st.addresses[i].Selected = selected
			}
		}
		if st.activeID == id {
			st.activeID = previousActiveID
		}
		var active *domain.Address
		if idx := st.indexLocked(st.activeID); idx >= 0 {
			copied := st.addresses[idx]
			active = &copied
		}
		st.mu.Unlock()
		if active != nil {
			st.writeCache(ctx, active)
		} else {
			st.clearCache(ctx)
		}
	}

	if st.session.DeviceID != "" {
		if err := svc.cache.Save(ctx, st.session.DeviceID, target); err != nil {
			if !st.session.Authenticated() {
				restore()
				return addressFailure(fmt.Errorf("%w: %v", ErrAddressSyncFailed, err))
			}
			svc.logger(ctx, "addresses.cache.failed", map[string]any{"error": err.Error()})
		}
	}

	if st.session.Authenticated() {
		type flip struct {
			id       string
			previous bool
		}
		applied := make([]flip, 0, len(order))
		writes := []string{id}
		for _, addrID := range order {
			if addrID != id && !isTempAddressID(addrID) {
				writes = append(writes, addrID)
			}
		}
		for _, addrID := range writes {
			selected := addrID == id
			if err := svc.remote.SetSelected(ctx, st.session.UserID, addrID, selected); err != nil {
				svc.logger(ctx, "addresses.select.failed", map[string]any{"addressId": addrID, "error": err.Error()})
				for i := len(applied) - 1; i >= 0; i-- {
					if revertErr := svc.remote.SetSelected(ctx, st.session.UserID, applied[i].id, applied[i].previous); revertErr != nil {
						svc.logger(ctx, "addresses.select.revert_failed", map[string]any{"addressId": applied[i].id, "error": revertErr.Error()})
					}
				}
				restore()
				return addressFailure(fmt.Errorf("%w: %v", ErrAddressSyncFailed, err))
			}
			applied = append(applied, flip{id: addrID, previous: previous[addrID]})
		}
	}

	target.Selected = true
	svc.logger(ctx, "addresses.selected", map[string]any{"addressId": id})
	return AddressResult{Success: true, Address: &target}
}

// DeleteAddress removes the address and re-derives the active one when needed: a selected
// survivor, else the first remaining, else none.
func (st *AddressStore) DeleteAddress(ctx context.Context, id string) AddressResult {
	svc := st.svc
	id = strings.TrimSpace(id)
	if id == "" {
		return addressFailure(ErrAddressInvalidInput)
	}

	st.mu.Lock()
	if st.indexLocked(id) < 0 {
		st.mu.Unlock()
		return addressFailure(ErrAddressNotFound)
	}
	if _, pending := st.pending[id]; pending {
		st.mu.Unlock()
		return addressFailure(ErrAddressPending)
	}
	st.mu.Unlock()

	if st.session.Authenticated() {
		if err := svc.remote.Delete(ctx, st.session.UserID, id); err != nil && !repositories.IsNotFound(err) {
			svc.logger(ctx, "addresses.delete.failed", map[string]any{"addressId": id, "error": err.Error()})
			return addressFailure(fmt.Errorf("%w: %v", ErrAddressSyncFailed, err))
		}
	}

	st.mu.Lock()
	idx := st.indexLocked(id)
	if idx < 0 {
		st.mu.Unlock()
		return AddressResult{Success: true}
	}
	removed := st.addresses[idx]
	st.addresses = append(st.addresses[:idx], st.addresses[idx+1:]...)
	wasActive := st.activeID == id
	var (
		promoted *domain.Address
		active   *domain.Address
	)
	if wasActive {
		st.activeID = ""
		next := -1
		for i := range st.addresses {
			if st.addresses[i].Selected {
				next = i
				break
			}
		}
		if next < 0 && len(st.addresses) > 0 {
			next = 0
		}
		if next >= 0 {
			if !st.addresses[next].Selected {
				st.addresses[next].Selected = true
				copied := st.addresses[next]
				promoted = &copied
			}
			st.activeID = st.addresses[next].ID
			copied := st.addresses[next]
			active = &copied
		}
	}
	st.mu.Unlock()

	if wasActive {
		if active != nil {
			st.writeCache(ctx, active)
		} else {
			st.clearCache(ctx)
		}
	}
	if promoted != nil && st.session.Authenticated() && !isTempAddressID(promoted.ID) {
		if err := svc.remote.SetSelected(ctx, st.session.UserID, promoted.ID, true); err != nil {
			svc.logger(ctx, "addresses.promote.failed", map[string]any{"addressId": promoted.ID, "error": err.Error()})
		}
	}

	svc.logger(ctx, "addresses.deleted", map[string]any{"addressId": id, "wasActive": wasActive})
	return AddressResult{Success: true, Address: &removed}
}

func (st *AddressStore) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range st.addresses {
		if st.addresses[i].ID == id {
			return i
		}
	}
	return -1
}

func (st *AddressStore) labelsLocked() []string {
	labels := make([]string, 0, len(st.addresses))
	for _, addr := range st.addresses {
		labels = append(labels, addr.Label)
	}
	return labels
}

func (st *AddressStore) writeCache(ctx context.Context, addr *domain.Address) {
	if st.session.DeviceID == "" || addr == nil {
		return
	}
	if err := st.svc.cache.Save(ctx, st.session.DeviceID, *addr); err != nil {
		st.svc.logger(ctx, "addresses.cache.failed", map[string]any{"error": err.Error()})
	}
}

func (st *AddressStore) clearCache(ctx context.Context) {
	if st.session.DeviceID == "" {
		return
	}
	if err := st.svc.cache.Clear(ctx, st.session.DeviceID); err != nil {
		st.svc.logger(ctx, "addresses.cache.failed", map[string]any{"error": err.Error()})
	}
}

func (s *addressService) normalise(input AddressInput) (domain.Address, error) {
	clean := func(value string) string {
		value = strings.TrimSpace(s.sanitize.Sanitize(value))
		if len(value) > maxAddressField {
			value = value[:maxAddressField]
		}
		return value
	}
	addr := domain.Address{
		Street:         clean(input.Street),
		Suburb:         clean(input.Suburb),
		Town:           clean(input.Town),
		Country:        clean(input.Country),
		Zip:            clean(input.Zip),
		AdditionalInfo: clean(input.AdditionalInfo),
		Label:          clean(input.Label),
		Lat:            input.Lat,
		Lng:            input.Lng,
		Timestamp:      s.now(),
	}
	if addr.Street == "" {
		return domain.Address{}, ErrAddressInvalidInput
	}
	if math.IsNaN(addr.Lat) || math.IsNaN(addr.Lng) || math.Abs(addr.Lat) > 90 || math.Abs(addr.Lng) > 180 {
		return domain.Address{}, ErrAddressInvalidInput
	}
	addr.IsValid = s.area.Contains(addr.Lat, addr.Lng)
	return addr, nil
}

// assignLabel keeps requested when it is unused, otherwise returns the first free label from
// Home, Work, Other 1, Other 2, and so on.
func assignLabel(existing []string, requested string) string {
	used := make(map[string]struct{}, len(existing))
	for _, label := range existing {
		used[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}
	isFree := func(label string) bool {
		_, taken := used[strings.ToLower(label)]
		return !taken
	}
	if requested = strings.TrimSpace(requested); requested != "" && isFree(requested) {
		return requested
	}
	for _, label := range labelPreferences {
		if isFree(label) {
			return label
		}
	}
	for n := 1; ; n++ {
		label := "Other " + strconv.Itoa(n)
		if isFree(label) {
			return label
		}
	}
}

func isTempAddressID(id string) bool {
	return strings.HasPrefix(id, tempAddressPrefix)
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
