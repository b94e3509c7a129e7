package order

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sjudeng/planet-api-workshop/common"
	"github.com/sjudeng/planet-api-workshop/service"
)

// maxOrderFormSize bounds the multipart order submission (the aoi geojson)
const maxOrderFormSize = 10 << 20

func (reg *Registry) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/orders", reg.CreateOrderHandler).Methods("POST")
	r.HandleFunc("/orders", reg.ListOrdersHandler).Methods("GET")
	r.HandleFunc("/orders/{order}", reg.GetOrderHandler).Methods("GET")
	r.HandleFunc("/orders/{order}", reg.DeleteOrderHandler).Methods("DELETE")
	r.HandleFunc("/orders/{order}/items", reg.ListItemsHandler).Methods("GET")
	r.HandleFunc("/orders/{order}/coverage", reg.GetCoverageHandler).Methods("GET")
	r.HandleFunc("/orders/{order}/dot", reg.PrintDotHandler).Methods("GET")
	r.HandleFunc("/orders/{order}/retry", reg.RetryOrderHandler).Methods("PUT")
	r.HandleFunc("/orders/{order}/items/{item}", reg.GetItemHandler).Methods("GET")
	r.HandleFunc("/orders/{order}/items/{item}/files", reg.ListItemFilesHandler).Methods("GET")
	r.HandleFunc("/orders/{order}/items/{item}/retry", reg.RetryItemHandler).Methods("PUT")
	r.HandleFunc("/orders/{order}/items/{item}/fail", reg.FailItemHandler).Methods("PUT")
	return r
}

func ifElse(cond bool, valtrue, valfalse int) int {
	if cond {
		return valtrue
	}
	return valfalse
}

// orderItem loads the item of the route, checking it belongs to the order
func (reg *Registry) orderItem(req *http.Request) (Item, error) {
	id, err := strconv.Atoi(mux.Vars(req)["item"])
	if err != nil {
		return Item{}, ErrInvalid{Reason: "item id must be an integer"}
	}
	item, err := reg.Item(req.Context(), id)
	if err != nil {
		return Item{}, err
	}
	if item.OrderID != mux.Vars(req)["order"] {
		return Item{}, ErrNotFound{Type: "item", ID: mux.Vars(req)["item"]}
	}
	return item, nil
}

// CreateOrderHandler creates a new order from a multipart form with an
// "order" field (json parameters) and an "aoi" field or file part (geojson)
func (reg *Registry) CreateOrderHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := req.ParseMultipartForm(maxOrderFormSize); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	params := common.OrderParams{}
	dec := json.NewDecoder(strings.NewReader(req.FormValue("order")))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "order field: %v", err)
		return
	}

	aoiJSON := []byte(req.FormValue("aoi"))
	if len(aoiJSON) == 0 {
		f, _, err := req.FormFile("aoi")
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintf(w, "aoi field: %v", err)
			return
		}
		defer f.Close()
		if aoiJSON, err = io.ReadAll(f); err != nil {
			w.WriteHeader(400)
			fmt.Fprintf(w, "aoi field: %v", err)
			return
		}
	}
	aoi, err := service.UnmarshalGeometry(aoiJSON)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "aoi field: %v", err)
		return
	}

	order, err := reg.CreateOrder(ctx, params, aoi)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	service.WriteJSON(w, order)
}

// ListOrdersHandler lists all the orders
func (reg *Registry) ListOrdersHandler(w http.ResponseWriter, req *http.Request) {
	service.WriteJSON(w, reg.Orders(req.Context()))
}

// GetOrderHandler retrieves an order with its item status counts
func (reg *Registry) GetOrderHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	order, err := reg.Order(ctx, mux.Vars(req)["order"])
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	service.WriteJSON(w, order)
}

// DeleteOrderHandler removes a settled order from the registry
func (reg *Registry) DeleteOrderHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := reg.DeleteOrder(ctx, mux.Vars(req)["order"]); err != nil {
		service.WriteError(w, req, err)
		return
	}
	w.WriteHeader(204)
}

// ListItemsHandler lists the items of the order
// If a status query parameter is provided, only the items with this status
func (reg *Registry) ListItemsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	items, err := reg.Items(ctx, mux.Vars(req)["order"])
	if err != nil {
		service.WriteError(w, req, err)
		return
	}

	status := req.URL.Query().Get("status")
	if status != "" {
		j := 0
		for i := 0; i < len(items); i++ {
			if items[i].Status.String() == status {
				items[j] = items[i]
				j++
			}
		}
		items = items[0:j]
	}
	service.WriteJSON(w, items)
}

// GetItemHandler retrieves an item of the order
func (reg *Registry) GetItemHandler(w http.ResponseWriter, req *http.Request) {
	item, err := reg.orderItem(req)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	service.WriteJSON(w, item)
}

// ListItemFilesHandler lists the files of the archive delivered for the item
func (reg *Registry) ListItemFilesHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	item, err := reg.orderItem(req)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	entries, err := reg.ItemFiles(ctx, item.ID)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	service.WriteJSON(w, entries)
}

// RetryItemHandler queues the item again if it has failed
func (reg *Registry) RetryItemHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	item, err := reg.orderItem(req)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	emptyMessage := ""
	done, err := reg.UpdateItemStatus(ctx, item.ID, common.StatusPENDING, &emptyMessage)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// FailItemHandler tags the item as FAILED
func (reg *Registry) FailItemHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	item, err := reg.orderItem(req)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	done, err := reg.UpdateItemStatus(ctx, item.ID, common.StatusFAILED, nil)
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// RetryOrderHandler queues again all the items of the order that have failed
func (reg *Registry) RetryOrderHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	items, err := reg.Items(ctx, mux.Vars(req)["order"])
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	emptyMessage := ""
	nbItems := 0
	for _, item := range items {
		if item.Status == common.StatusRETRY || item.Status == common.StatusFAILED {
			done, err := reg.UpdateItemStatus(ctx, item.ID, common.StatusPENDING, &emptyMessage)
			if err != nil {
				service.WriteError(w, req, err)
				return
			}
			if done {
				nbItems++
			}
		}
	}
	if nbItems == 0 {
		w.WriteHeader(204)
	} else {
		service.WriteJSON(w, struct{ Items int }{nbItems})
	}
}

// GetCoverageHandler returns the fraction of the order aoi covered by the
// footprints of its items
func (reg *Registry) GetCoverageHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	coverage, err := reg.Coverage(ctx, mux.Vars(req)["order"])
	if err != nil {
		service.WriteError(w, req, err)
		return
	}
	service.WriteJSON(w, struct {
		Coverage float64 `json:"coverage"`
	}{coverage})
}

// PrintDotHandler returns a dot-representation of the order
func (reg *Registry) PrintDotHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := reg.Dot(ctx, mux.Vars(req)["order"], w); err != nil {
		service.WriteError(w, req, err)
	}
}
