package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/DmytroChyzh/ciedenmanager/citest/testutil"
)

var _ = Describe("Event Stream", func() {
	var (
		ts     *testutil.TestServer
		client *testutil.TestClient
		sse    *testutil.SSEClient
	)

	BeforeEach(func() {
		ts, client = startServer()
		sse = ts.SSEClient()
		DeferCleanup(sse.Close)
	})

	connect := func(path string) {
		Expect(sse.Connect(ctx, path)).To(Succeed())
		_, err := sse.WaitForEvent("server.connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	}

	It("streams the lifecycle of an exchange in order", func() {
		connect("/event")

		_, _, err := client.Send(ctx, "hi")
		Expect(err).NotTo(HaveOccurred())

		var types []string
		Eventually(func() []string {
			types = nil
			for _, evt := range sse.GetAllEvents() {
				if evt.Type != "heartbeat" && evt.Type != "server.connected" {
					types = append(types, evt.Type)
				}
			}
			return types
		}, 5*time.Second).Should(HaveLen(5))

		Expect(types).To(Equal([]string{
			"chat.status",
			"message.appended",
			"chat.status",
			"message.appended",
			"chat.status",
		}))
	})

	It("reports status transitions for the originating chat", func() {
		active, _ := client.Active(ctx)
		connect("/event")

		client.Send(ctx, "hi")

		evt, err := sse.WaitForEvent("chat.status", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		status, err := evt.ParseStatusEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.SessionID).To(Equal(active.ID))
		Expect(status.Status).To(Equal("pending"))

		evt, err = sse.WaitForEvent("message.appended", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		msg, err := evt.ParseMessageEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Info.Text).To(Equal("hi"))
	})

	It("filters by session when asked", func() {
		watched, _ := client.Active(ctx)
		connect("/event?sessionID=" + watched.ID)

		created, err := client.NewChat(ctx)
		Expect(err).NotTo(HaveOccurred())
		client.Send(ctx, "elsewhere")

		resp, _ := client.Post(ctx, "/chat/"+watched.ID+"/select", nil)
		Expect(resp.IsSuccess()).To(BeTrue())

		_, err = sse.WaitForEvent("chat.selected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())

		for _, evt := range sse.GetAllEvents() {
			switch evt.Type {
			case "chat.created":
				data, _ := evt.ParseSessionEvent()
				Expect(data.Info.ID).NotTo(Equal(created.ID))
			case "message.appended", "chat.status":
				Fail("received an event about another chat: " + evt.Type)
			}
		}
	})
})
