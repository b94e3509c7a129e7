package order

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/google/uuid"
	"github.com/sjudeng/planet-api-workshop/common"
	"github.com/sjudeng/planet-api-workshop/fetcher"
	"github.com/sjudeng/planet-api-workshop/planet"
	"github.com/sjudeng/planet-api-workshop/service"
	"github.com/sjudeng/planet-api-workshop/service/geometry"
	"github.com/sjudeng/planet-api-workshop/service/log"
	"golang.org/x/sync/errgroup"
)

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

func (e ErrAlreadyExists) StatusCode() int {
	return 409
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

func (e ErrNotFound) StatusCode() int {
	return 404
}

// ErrInvalid reports a malformed order submission
type ErrInvalid struct {
	Reason string
}

func (e ErrInvalid) Error() string {
	return "invalid order: " + e.Reason
}

func (e ErrInvalid) StatusCode() int {
	return 400
}

// Item is an order item together with its retrieval state
type Item struct {
	common.Item
	Status         common.Status `json:"status"`
	Message        string        `json:"message,omitempty"`
	RetryCountDown int           `json:"retry_count_down,omitempty"`
	URIs           []string      `json:"uris,omitempty"`
}

// Counts of items per status
type Counts struct {
	New, Pending, Active, Done, Retry, Failed int
}

// Add one occurence of the given status
func (c *Counts) Add(status common.Status) {
	switch status {
	case common.StatusNEW:
		c.New++
	case common.StatusPENDING:
		c.Pending++
	case common.StatusACTIVE:
		c.Active++
	case common.StatusDONE:
		c.Done++
	case common.StatusRETRY:
		c.Retry++
	case common.StatusFAILED:
		c.Failed++
	}
}

// Order is one submitted retrieval order
// Items is only filled on the snapshots returned by the registry
type Order struct {
	ID        string             `json:"id"`
	Params    common.OrderParams `json:"params"`
	Status    common.Status      `json:"status"`
	Message   string             `json:"message,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Items     Counts             `json:"items"`

	aoi   geom.Geometry
	items []*Item
}

func (o *Order) snapshot() Order {
	cp := *o
	cp.items = nil
	for _, item := range o.items {
		cp.Items.Add(item.Status)
	}
	return cp
}

// Registry holds the submitted orders and runs their retrieval
// It is strictly in-memory: a restart loses all the orders
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*Order
	items  map[int]*Item
	lastID int

	session *planet.Session
	storage service.Storage
	cfg     fetcher.Config
	workdir string

	orderQueue chan string
	itemQueue  chan int
}

func NewRegistry(session *planet.Session, storage service.Storage, workdir string, cfg fetcher.Config) *Registry {
	return &Registry{
		orders:     map[string]*Order{},
		items:      map[int]*Item{},
		session:    session,
		storage:    storage,
		cfg:        cfg,
		workdir:    workdir,
		orderQueue: make(chan string, 64),
		itemQueue:  make(chan int, 1024),
	}
}

// Run starts the order dispatcher and cfg.Jobs item workers, blocking until
// the context is cancelled
func (reg *Registry) Run(ctx context.Context) error {
	jobs := reg.cfg.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reg.dispatchLoop(ctx)
	})
	for i := 0; i < jobs; i++ {
		g.Go(func() error {
			return reg.workLoop(ctx)
		})
	}
	return g.Wait()
}

// CreateOrder registers a new order and queues it for dispatch
// Order names are unique, may return ErrAlreadyExists
func (reg *Registry) CreateOrder(ctx context.Context, params common.OrderParams, aoi geom.Geometry) (Order, error) {
	switch {
	case params.Name == "":
		return Order{}, ErrInvalid{Reason: "name is required"}
	case params.ItemType == "":
		return Order{}, ErrInvalid{Reason: "item_type is required"}
	case params.AssetName == "":
		return Order{}, ErrInvalid{Reason: "asset_name is required"}
	case !params.EndDate.After(params.StartDate):
		return Order{}, ErrInvalid{Reason: "end_date must be after start_date"}
	case aoi == nil:
		return Order{}, ErrInvalid{Reason: "aoi is required"}
	}

	reg.mu.Lock()
	for _, o := range reg.orders {
		if o.Params.Name == params.Name {
			reg.mu.Unlock()
			return Order{}, ErrAlreadyExists{Type: "order", ID: params.Name}
		}
	}
	order := &Order{
		ID:        uuid.New().String(),
		Params:    params,
		Status:    common.StatusNEW,
		CreatedAt: time.Now(),
		aoi:       aoi,
	}
	reg.orders[order.ID] = order
	snapshot := order.snapshot()
	reg.mu.Unlock()

	log.Logger(ctx).Sugar().Infof("queueing order %s (%s)", params.Name, order.ID)
	reg.orderQueue <- order.ID
	return snapshot, nil
}

// Order returns a snapshot of the order, may return ErrNotFound
func (reg *Registry) Order(ctx context.Context, id string) (Order, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	order, ok := reg.orders[id]
	if !ok {
		return Order{}, ErrNotFound{Type: "order", ID: id}
	}
	return order.snapshot(), nil
}

// DeleteOrder removes a settled order and its items from the registry, may
// return ErrNotFound. An order still retrieving items cannot be deleted
func (reg *Registry) DeleteOrder(ctx context.Context, id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	order, ok := reg.orders[id]
	if !ok {
		return ErrNotFound{Type: "order", ID: id}
	}
	for _, item := range order.items {
		switch item.Status {
		case common.StatusPENDING, common.StatusACTIVE:
			return ErrInvalid{Reason: fmt.Sprintf("item %d is still %s", item.ID, item.Status)}
		}
	}
	for _, item := range order.items {
		delete(reg.items, item.ID)
	}
	delete(reg.orders, id)
	log.Logger(ctx).Sugar().Infof("deleted order %s (%s)", order.Params.Name, id)
	return nil
}

// Orders returns a snapshot of all the orders, most recent first
func (reg *Registry) Orders(ctx context.Context) []Order {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	orders := make([]Order, 0, len(reg.orders))
	for _, order := range reg.orders {
		orders = append(orders, order.snapshot())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders
}

// Items returns a snapshot of the items of the order in ingestion order, may
// return ErrNotFound
func (reg *Registry) Items(ctx context.Context, orderID string) ([]Item, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	order, ok := reg.orders[orderID]
	if !ok {
		return nil, ErrNotFound{Type: "order", ID: orderID}
	}
	items := make([]Item, len(order.items))
	for i, item := range order.items {
		items[i] = *item
		items[i].URIs = append([]string(nil), item.URIs...)
	}
	return items, nil
}

// Item returns a snapshot of the item, may return ErrNotFound
func (reg *Registry) Item(ctx context.Context, id int) (Item, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	item, ok := reg.items[id]
	if !ok {
		return Item{}, ErrNotFound{Type: "item", ID: strconv.Itoa(id)}
	}
	cp := *item
	cp.URIs = append([]string(nil), item.URIs...)
	return cp, nil
}

// UpdateOrderStatus sets the status of the order, may return ErrNotFound
// The order status normally follows the statuses of its items, this is for
// the dispatcher and for order-level failures
func (reg *Registry) UpdateOrderStatus(ctx context.Context, id string, status common.Status, message *string) (bool, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	order, ok := reg.orders[id]
	if !ok {
		return false, ErrNotFound{Type: "order", ID: id}
	}
	if message != nil {
		order.Message = *message
	}
	if order.Status == status {
		return false, nil
	}
	log.Logger(ctx).Sugar().Infof("update order status %s: %s->%s (%s)", order.Params.Name, order.Status, status, order.Message)
	order.Status = status
	return true, nil
}

// UpdateItemStatus applies one status transition to the item, queueing it
// again when it is sent back to PENDING. A RETRY with retries left is turned
// into a PENDING. It returns whether the transition was applied, may return
// ErrNotFound
func (reg *Registry) UpdateItemStatus(ctx context.Context, id int, status common.Status, message *string) (bool, error) {
	lg := log.Logger(ctx).Sugar()

	reg.mu.Lock()
	item, ok := reg.items[id]
	if !ok {
		reg.mu.Unlock()
		return false, ErrNotFound{Type: "item", ID: strconv.Itoa(id)}
	}
	if message != nil {
		item.Message = *message
	}
	if item.Status == status {
		reg.mu.Unlock()
		lg.Warnf("update item %d: status already %s", id, status)
		return false, nil
	}

	allowed, requeue := false, false
	switch item.Status {
	case common.StatusNEW:
		allowed = status == common.StatusPENDING
	case common.StatusPENDING:
		allowed = status == common.StatusACTIVE || status == common.StatusFAILED
	case common.StatusACTIVE:
		switch status {
		case common.StatusDONE, common.StatusFAILED:
			allowed = true
		case common.StatusRETRY:
			allowed = true
			if item.RetryCountDown > 0 {
				item.RetryCountDown--
				item.Message = ""
				status = common.StatusPENDING
				requeue = true
			}
		}
	case common.StatusRETRY:
		allowed = status == common.StatusPENDING || status == common.StatusFAILED
		requeue = status == common.StatusPENDING
	case common.StatusFAILED:
		allowed = status == common.StatusPENDING
		requeue = allowed
	}
	if !allowed {
		reg.mu.Unlock()
		lg.Errorf("cannot update item %d status %s->%s", id, item.Status, status)
		return false, nil
	}

	lg.Infof("update item status %s: %s->%s (%s)", item.SourceID, item.Status, status, item.Message)
	item.Status = status
	if order, ok := reg.orders[item.OrderID]; ok {
		reg.refreshOrder(ctx, order)
	}
	reg.mu.Unlock()

	if requeue {
		reg.itemQueue <- id
	}
	return true, nil
}

// refreshOrder recomputes the order status from its items
// The caller must hold the lock
func (reg *Registry) refreshOrder(ctx context.Context, order *Order) {
	if len(order.items) == 0 {
		return
	}
	var counts Counts
	for _, item := range order.items {
		counts.Add(item.Status)
	}
	var status common.Status
	switch {
	case counts.New+counts.Pending+counts.Active > 0:
		status = common.StatusACTIVE
	case counts.Failed > 0:
		status = common.StatusFAILED
	case counts.Retry > 0:
		status = common.StatusRETRY
	default:
		status = common.StatusDONE
	}
	if status != order.Status {
		log.Logger(ctx).Sugar().Infof("update order status %s: %s->%s", order.Params.Name, order.Status, status)
		order.Status = status
	}
}

// ResultHandler applies the result of an item retrieval or of a whole order
func (reg *Registry) ResultHandler(ctx context.Context, result common.Result) error {
	var err error
	switch result.Type {
	case common.ResultTypeItem:
		_, err = reg.UpdateItemStatus(ctx, result.ID, result.Status, &result.Message)
	case common.ResultTypeOrder:
		_, err = reg.UpdateOrderStatus(ctx, result.OrderID, result.Status, &result.Message)
	default:
		panic(result.Type)
	}
	return err
}

func (reg *Registry) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-reg.orderQueue:
			reg.dispatchOrder(ctx, id)
		}
	}
}

// dispatchOrder searches the items covered by the order and queues them
func (reg *Registry) dispatchOrder(ctx context.Context, id string) {
	lg := log.Logger(ctx).Sugar()
	reg.mu.RLock()
	order, ok := reg.orders[id]
	if !ok {
		reg.mu.RUnlock()
		lg.Errorf("dispatch: order not found: %s", id)
		return
	}
	params, aoi := order.Params, order.aoi
	reg.mu.RUnlock()

	if _, err := reg.UpdateOrderStatus(ctx, id, common.StatusPENDING, nil); err != nil {
		lg.Errorf("dispatch order %s: %v", id, err)
		return
	}

	var ids []int
	it := reg.session.Search(planet.SearchFilter{
		Geometry:  aoi,
		Start:     params.StartDate,
		End:       params.EndDate,
		ItemType:  params.ItemType,
		AssetName: params.AssetName,
	})
	for it.Next(ctx) {
		itemID, err := reg.ingestItem(ctx, id, params, it.Feature())
		if err != nil {
			lg.Warnf("order %s: %v", params.Name, err)
			continue
		}
		ids = append(ids, itemID)
	}
	if err := it.Err(); err != nil {
		lg.Warnf("order %s: search: %v", params.Name, err)
		message := fmt.Sprintf("search: %v", err)
		reg.result(ctx, common.Result{Type: common.ResultTypeOrder, OrderID: id, Status: common.StatusFAILED, Message: message})
		return
	}
	if len(ids) == 0 {
		reg.result(ctx, common.Result{Type: common.ResultTypeOrder, OrderID: id, Status: common.StatusDONE, Message: "no item found"})
		return
	}

	lg.Infof("order %s: queueing %d items", params.Name, len(ids))
	for _, itemID := range ids {
		if _, err := reg.UpdateItemStatus(ctx, itemID, common.StatusPENDING, nil); err != nil {
			lg.Errorf("queue item %d: %v", itemID, err)
			continue
		}
		reg.itemQueue <- itemID
	}
}

// ingestItem registers one search feature as an item of the order
func (reg *Registry) ingestItem(ctx context.Context, orderID string, params common.OrderParams, feature *planet.Feature) (int, error) {
	acquired, err := feature.Acquired()
	if err != nil {
		return 0, fmt.Errorf("ingestItem.%w", err)
	}
	footprint, err := feature.Footprint()
	if err != nil {
		return 0, fmt.Errorf("ingestItem.%w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	order, ok := reg.orders[orderID]
	if !ok {
		return 0, ErrNotFound{Type: "order", ID: orderID}
	}
	for _, item := range order.items {
		if item.SourceID == feature.ID {
			return 0, ErrAlreadyExists{Type: "item", ID: feature.ID}
		}
	}
	reg.lastID++
	item := &Item{
		Item: common.Item{
			ID:       reg.lastID,
			SourceID: feature.ID,
			OrderID:  orderID,
			Data: common.ItemAttrs{
				ItemType:       params.ItemType,
				AssetName:      params.AssetName,
				Acquired:       acquired,
				CloudCover:     feature.CloudCover(),
				GeometryWKT:    wkt.MustEncode(footprint),
				DeliveryPrefix: params.DeliveryPrefix,
				Unarchive:      params.Unarchive,
			},
		},
		Status:         common.StatusNEW,
		RetryCountDown: params.Retries,
	}
	reg.items[item.ID] = item
	order.items = append(order.items, item)
	return item.ID, nil
}

func (reg *Registry) workLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-reg.itemQueue:
			reg.processItem(ctx, id)
		}
	}
}

// processItem runs the retrieval pipeline for one queued item and reports
// the result to the registry
func (reg *Registry) processItem(ctx context.Context, id int) {
	lg := log.Logger(ctx).Sugar()
	item, err := reg.Item(ctx, id)
	if err != nil {
		lg.Errorf("process item %d: %v", id, err)
		return
	}
	if item.Status != common.StatusPENDING {
		lg.Warnf("process item %d: status %s, skipping", id, item.Status)
		return
	}
	if _, err := reg.UpdateItemStatus(ctx, id, common.StatusACTIVE, nil); err != nil {
		lg.Errorf("process item %d: %v", id, err)
		return
	}

	ctx = log.With(ctx, "item", item.SourceID)
	uris, err := fetcher.ProcessItem(ctx, reg.session, reg.storage, item.Item, reg.cfg, reg.workdir)
	result := common.Result{Type: common.ResultTypeItem, ID: id, Status: common.StatusDONE}
	if err != nil {
		result.Message = err.Error()
		if service.Temporary(err) {
			result.Status = common.StatusRETRY
		} else {
			result.Status = common.StatusFAILED
		}
	} else {
		reg.setItemURIs(id, uris)
	}
	reg.result(ctx, result)
}

func (reg *Registry) result(ctx context.Context, result common.Result) {
	if err := reg.ResultHandler(ctx, result); err != nil {
		log.Logger(ctx).Sugar().Errorf("handle result %+v: %v", result, err)
	}
}

func (reg *Registry) setItemURIs(id int, uris []string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if item, ok := reg.items[id]; ok {
		item.URIs = uris
	}
}

// Coverage returns the fraction of the order aoi covered by the footprints
// of its items, may return ErrNotFound
func (reg *Registry) Coverage(ctx context.Context, id string) (float64, error) {
	reg.mu.RLock()
	order, ok := reg.orders[id]
	if !ok {
		reg.mu.RUnlock()
		return 0, ErrNotFound{Type: "order", ID: id}
	}
	aoi := order.aoi
	wkts := make([]string, 0, len(order.items))
	for _, item := range order.items {
		if item.Data.GeometryWKT != "" {
			wkts = append(wkts, item.Data.GeometryWKT)
		}
	}
	reg.mu.RUnlock()

	footprints := make([]geom.Geometry, 0, len(wkts))
	for _, w := range wkts {
		g, err := wkt.DecodeString(w)
		if err != nil {
			return 0, fmt.Errorf("Coverage.%w", err)
		}
		footprints = append(footprints, g)
	}
	coverage, err := geometry.Coverage(aoi, footprints)
	if err != nil {
		return 0, fmt.Errorf("Coverage.%w", err)
	}
	return coverage, nil
}

// ItemFiles lists the content of the archive delivered for the item, may
// return ErrNotFound when the item delivered no archive
func (reg *Registry) ItemFiles(ctx context.Context, id int) ([]service.ArchiveEntry, error) {
	item, err := reg.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	var name string
	for _, uri := range item.URIs {
		if strings.EqualFold(path.Ext(uri), ".zip") {
			name = path.Base(uri)
			break
		}
	}
	if name == "" {
		return nil, ErrNotFound{Type: "archive", ID: item.SourceID}
	}
	entries, err := reg.storage.ListArchive(ctx, item.Item, name)
	if err != nil {
		return nil, fmt.Errorf("ItemFiles.%w", err)
	}
	return entries, nil
}

// Dot writes a graphviz representation of the order and its items
func (reg *Registry) Dot(ctx context.Context, id string, out io.Writer) error {
	order, err := reg.Order(ctx, id)
	if err != nil {
		return err
	}
	items, err := reg.Items(ctx, id)
	if err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	fmt.Fprintf(out, "digraph \"%s\" {\n", order.Params.Name)
	defer fmt.Fprintf(out, "}\n")
	fmt.Fprintf(out, "o [label=\"%s\" shape=box color=%s];\n", order.Params.Name, order.Status.Color())
	for _, item := range items {
		fmt.Fprintf(out, "i%d [label=\"%s\\n(id=%d)\" color=%s];\n", item.ID, item.SourceID, item.ID, item.Status.Color())
	}
	for _, item := range items {
		style := ""
		if item.Status != common.StatusDONE {
			style = " style=dotted"
		}
		fmt.Fprintf(out, "o -> i%d [color=gray%s];\n", item.ID, style)
	}
	return nil
}
