package order_test

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sjudeng/planet-api-workshop/common"
	"github.com/sjudeng/planet-api-workshop/order"
	"github.com/sjudeng/planet-api-workshop/service"
)

// testAOI is the [0,2]x[0,2] square: each fake feature covers half of it
var testAOI = geom.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}

var nameCounter int

func uniqueName() string {
	nameCounter++
	return fmt.Sprintf("order%d", nameCounter)
}

func orderParams() common.OrderParams {
	return common.OrderParams{
		Name:      uniqueName(),
		ItemType:  "PSScene",
		AssetName: "ortho_analytic_4b",
		StartDate: time.Date(2018, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

// orderStatus polls the status of the order, NEW when it does not exist
func orderStatus(id string) func() common.Status {
	return func() common.Status {
		o, err := reg.Order(ctx, id)
		if err != nil {
			return common.StatusNEW
		}
		return o.Status
	}
}

// waitOrder waits for the order to reach the given status. Every spec
// creating an order settles it before returning so that the suite never
// leaks in-flight retrievals into the next spec
func waitOrder(id string, status common.Status) {
	Eventually(orderStatus(id), 5*time.Second, 10*time.Millisecond).Should(Equal(status))
}

func zipBytes(files map[string]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		fw, err := w.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).NotTo(HaveOccurred())
	return buf.Bytes()
}

var _ = Describe("Registry", func() {

	Context("submitting an order", func() {
		It("rejects incomplete parameters", func() {
			params := orderParams()
			params.Name = ""
			_, err := reg.CreateOrder(ctx, params, testAOI)
			Expect(err).To(Equal(order.ErrInvalid{Reason: "name is required"}))

			params = orderParams()
			params.ItemType = ""
			_, err = reg.CreateOrder(ctx, params, testAOI)
			Expect(err).To(Equal(order.ErrInvalid{Reason: "item_type is required"}))

			params = orderParams()
			params.AssetName = ""
			_, err = reg.CreateOrder(ctx, params, testAOI)
			Expect(err).To(Equal(order.ErrInvalid{Reason: "asset_name is required"}))

			params = orderParams()
			params.EndDate = params.StartDate
			_, err = reg.CreateOrder(ctx, params, testAOI)
			Expect(err).To(Equal(order.ErrInvalid{Reason: "end_date must be after start_date"}))

			_, err = reg.CreateOrder(ctx, orderParams(), nil)
			Expect(err).To(Equal(order.ErrInvalid{Reason: "aoi is required"}))
		})

		It("marks an order matching no item as done", func() {
			api.reset(nil)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(common.StatusNEW))

			waitOrder(o.ID, common.StatusDONE)
			o, err = reg.Order(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Message).To(Equal("no item found"))
			Expect(o.Items).To(Equal(order.Counts{}))
		})

		It("rejects a duplicate order name", func() {
			api.reset(nil)
			params := orderParams()
			o, err := reg.CreateOrder(ctx, params, testAOI)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.CreateOrder(ctx, params, testAOI)
			Expect(err).To(Equal(order.ErrAlreadyExists{Type: "order", ID: params.Name}))
			waitOrder(o.ID, common.StatusDONE)
		})
	})

	Context("retrieving the items", func() {
		It("downloads every item of the order", func() {
			api.reset([]string{"20180910_114014_0f2b", "20180911_120000_0f2c"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			o, err = reg.Order(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Items.Done).To(Equal(2))

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			for _, item := range items {
				Expect(item.Status).To(Equal(common.StatusDONE))
				Expect(item.URIs).To(HaveLen(1))
				Expect(item.Data.Acquired.IsZero()).To(BeFalse())
				Expect(item.Data.CloudCover).To(Equal(0.05))
				Expect(item.Data.GeometryWKT).To(ContainSubstring("POLYGON"))
				content, err := os.ReadFile(filepath.Join(distdir, o.ID, item.SourceID+".tif"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("rasterdata"))
			}
		})

		It("delivers under the date prefix", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			params := orderParams()
			params.DeliveryPrefix = "{YEAR}/{MONTH}"
			o, err := reg.CreateOrder(ctx, params, testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			_, err = os.Stat(filepath.Join(distdir, o.ID, "2018", "09", "20180910_114014_0f2b.tif"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("fails only the missing item", func() {
			api.reset([]string{"20180910_114014_0f2b", "20180911_120000_0f2c"})
			api.setMissing("20180911_120000_0f2c", true)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusFAILED)

			o, err = reg.Order(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Items.Done).To(Equal(1))
			Expect(o.Items.Failed).To(Equal(1))

			_, err = os.Stat(filepath.Join(distdir, o.ID, "20180910_114014_0f2b.tif"))
			Expect(err).NotTo(HaveOccurred())

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			for _, item := range items {
				if item.SourceID == "20180911_120000_0f2c" {
					Expect(item.Status).To(Equal(common.StatusFAILED))
					Expect(item.Message).To(ContainSubstring("404"))
				}
			}
		})
	})

	Context("retrying", func() {
		It("queues a transient failure again by itself", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			api.setFailDownload("20180910_114014_0f2b", 1)
			params := orderParams()
			params.Retries = 1
			o, err := reg.CreateOrder(ctx, params, testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			Expect(api.downloadCount("20180910_114014_0f2b")).To(Equal(2))
			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].RetryCountDown).To(Equal(0))
			Expect(items[0].Message).To(BeEmpty())
		})

		It("is queued again by hand after a failure", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			api.setFailDownload("20180910_114014_0f2b", 1)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusRETRY)

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Status).To(Equal(common.StatusRETRY))
			Expect(items[0].Message).To(ContainSubstring("500"))

			emptyMessage := ""
			done, err := reg.UpdateItemStatus(ctx, items[0].ID, common.StatusPENDING, &emptyMessage)
			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeTrue())
			waitOrder(o.ID, common.StatusDONE)
		})
	})

	Context("applying results", func() {
		It("applies an order level failure", func() {
			api.reset(nil)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			result := common.Result{Type: common.ResultTypeOrder, OrderID: o.ID, Status: common.StatusFAILED, Message: "no permission"}
			Expect(reg.ResultHandler(ctx, result)).To(Succeed())
			o, err = reg.Order(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(common.StatusFAILED))
			Expect(o.Message).To(Equal("no permission"))
		})

		It("reports a result for an unknown item", func() {
			result := common.Result{Type: common.ResultTypeItem, ID: 99999, Status: common.StatusDONE}
			err := reg.ResultHandler(ctx, result)
			Expect(err).To(Equal(order.ErrNotFound{Type: "item", ID: "99999"}))
		})
	})

	Context("coverage", func() {
		It("reports the covered fraction of the aoi", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			coverage, err := reg.Coverage(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(coverage).To(BeNumerically("~", 0.5, 1e-6))
		})
	})

	Context("archives", func() {
		It("lists the delivered archive", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			api.setBundle(zipBytes(map[string]string{
				"scene_3B_AnalyticMS.tif": "raster",
				"scene_metadata.xml":      "<meta/>",
			}))
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].URIs[0]).To(HaveSuffix(".zip"))

			entries, err := reg.ItemFiles(ctx, items[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(ConsistOf(
				service.ArchiveEntry{Name: "scene_3B_AnalyticMS.tif", Size: 6},
				service.ArchiveEntry{Name: "scene_metadata.xml", Size: 7},
			))
		})

		It("reports no archive on a plain delivery", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.ItemFiles(ctx, items[0].ID)
			Expect(err).To(Equal(order.ErrNotFound{Type: "archive", ID: "20180910_114014_0f2b"}))
		})
	})

	Context("deleting", func() {
		It("deletes a settled order", func() {
			api.reset(nil)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			Expect(reg.DeleteOrder(ctx, o.ID)).To(Succeed())
			_, err = reg.Order(ctx, o.ID)
			Expect(err).To(Equal(order.ErrNotFound{Type: "order", ID: o.ID}))
		})

		It("reports an unknown order", func() {
			err := reg.DeleteOrder(ctx, "no-such-order")
			Expect(err).To(Equal(order.ErrNotFound{Type: "order", ID: "no-such-order"}))
		})
	})

	Context("over http", func() {
		var srv *httptest.Server

		BeforeEach(func() {
			srv = httptest.NewServer(reg.NewHandler())
		})
		AfterEach(func() {
			srv.Close()
		})

		put := func(url string) *http.Response {
			req, err := http.NewRequest("PUT", url, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("creates an order from a multipart form", func() {
			api.reset(nil)
			name := uniqueName()
			body := &bytes.Buffer{}
			mw := multipart.NewWriter(body)
			params := fmt.Sprintf(`{"name": %q, "item_type": "PSScene", "asset_name": "ortho_analytic_4b",
				"start_date": "2018-09-01T00:00:00Z", "end_date": "2018-10-01T00:00:00Z"}`, name)
			Expect(mw.WriteField("order", params)).To(Succeed())
			fw, err := mw.CreateFormFile("aoi", "aoi.geojson")
			Expect(err).NotTo(HaveOccurred())
			_, err = fw.Write([]byte(`{"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(mw.Close()).To(Succeed())

			resp, err := http.Post(srv.URL+"/orders", mw.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			created := order.Order{}
			decodeJSON(resp, &created)
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.Status).To(Equal(common.StatusNEW))

			resp, err = http.Get(srv.URL + "/orders/" + created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			got := order.Order{}
			decodeJSON(resp, &got)
			Expect(got.Params.Name).To(Equal(name))

			waitOrder(created.ID, common.StatusDONE)
		})

		It("rejects a plain json submission", func() {
			resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader("{}"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
			resp.Body.Close()
		})

		It("returns 404 on an unknown order", func() {
			resp, err := http.Get(srv.URL + "/orders/no-such-order")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
			resp.Body.Close()
		})

		It("lists the items filtered by status", func() {
			api.reset([]string{"20180910_114014_0f2b", "20180911_120000_0f2c"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			resp, err := http.Get(srv.URL + "/orders/" + o.ID + "/items?status=DONE")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			items := []order.Item{}
			decodeJSON(resp, &items)
			Expect(items).To(HaveLen(2))

			resp, err = http.Get(srv.URL + "/orders/" + o.ID + "/items?status=FAILED")
			Expect(err).NotTo(HaveOccurred())
			items = []order.Item{}
			decodeJSON(resp, &items)
			Expect(items).To(BeEmpty())
		})

		It("retries the failed items of an order", func() {
			api.reset([]string{"20180910_114014_0f2b", "20180911_120000_0f2c"})
			api.setMissing("20180911_120000_0f2c", true)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusFAILED)

			api.setMissing("20180911_120000_0f2c", false)
			resp := put(srv.URL + "/orders/" + o.ID + "/retry")
			Expect(resp.StatusCode).To(Equal(200))
			retried := struct{ Items int }{}
			decodeJSON(resp, &retried)
			Expect(retried.Items).To(Equal(1))
			waitOrder(o.ID, common.StatusDONE)

			resp = put(srv.URL + "/orders/" + o.ID + "/retry")
			Expect(resp.StatusCode).To(Equal(204))
			resp.Body.Close()
		})

		It("fails and requeues an item by hand", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			api.setFailDownload("20180910_114014_0f2b", 1)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusRETRY)

			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			itemURL := fmt.Sprintf("%s/orders/%s/items/%d", srv.URL, o.ID, items[0].ID)

			resp := put(itemURL + "/fail")
			Expect(resp.StatusCode).To(Equal(200))
			resp.Body.Close()
			waitOrder(o.ID, common.StatusFAILED)

			resp = put(itemURL + "/retry")
			Expect(resp.StatusCode).To(Equal(200))
			resp.Body.Close()
			waitOrder(o.ID, common.StatusDONE)

			resp, err = http.Get(itemURL)
			Expect(err).NotTo(HaveOccurred())
			item := order.Item{}
			decodeJSON(resp, &item)
			Expect(item.Status).To(Equal(common.StatusDONE))
			Expect(item.Message).To(BeEmpty())
		})

		It("reports the coverage", func() {
			api.reset([]string{"20180910_114014_0f2b", "20180911_120000_0f2c"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			resp, err := http.Get(srv.URL + "/orders/" + o.ID + "/coverage")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			cov := struct {
				Coverage float64 `json:"coverage"`
			}{}
			decodeJSON(resp, &cov)
			Expect(cov.Coverage).To(BeNumerically("~", 1.0, 1e-6))
		})

		It("prints the order graph", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			resp, err := http.Get(srv.URL + "/orders/" + o.ID + "/dot")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			dot, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(dot)).To(ContainSubstring("digraph"))
			Expect(string(dot)).To(ContainSubstring("o -> i"))
		})

		It("lists the files of a delivered archive", func() {
			api.reset([]string{"20180910_114014_0f2b"})
			api.setBundle(zipBytes(map[string]string{"scene.tif": "raster"}))
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)
			items, err := reg.Items(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(fmt.Sprintf("%s/orders/%s/items/%d/files", srv.URL, o.ID, items[0].ID))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			entries := []service.ArchiveEntry{}
			decodeJSON(resp, &entries)
			Expect(entries).To(ConsistOf(service.ArchiveEntry{Name: "scene.tif", Size: 6}))
		})

		It("deletes a settled order", func() {
			api.reset(nil)
			o, err := reg.CreateOrder(ctx, orderParams(), testAOI)
			Expect(err).NotTo(HaveOccurred())
			waitOrder(o.ID, common.StatusDONE)

			req, err := http.NewRequest("DELETE", srv.URL+"/orders/"+o.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(204))
			resp.Body.Close()

			resp, err = http.Get(srv.URL + "/orders/" + o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
			resp.Body.Close()
		})
	})
})
