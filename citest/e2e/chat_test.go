package e2e_test

import (
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/DmytroChyzh/ciedenmanager/citest/testutil"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

var _ = Describe("Chat Workflows", func() {
	var client *testutil.TestClient

	BeforeEach(func() {
		_, client = startServer(testutil.WithSystemPrompt("You are terse."))
	})

	Describe("Sending messages", func() {
		It("appends the user message and the reply", func() {
			ex, resp, err := client.Send(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(ex.Reply.Text).To(Equal("echo: hi"))
			Expect(ex.Error).To(BeEmpty())

			active, err := client.Active(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Messages).To(HaveLen(2))
			Expect(active.Messages[0].Role).To(Equal(types.RoleUser))
			Expect(active.Messages[1].Role).To(Equal(types.RoleAssistant))
			Expect(active.Title).To(Equal("hi"))
		})

		It("sends the system prompt and the full history", func() {
			client.Send(ctx, "first")
			client.Send(ctx, "second")

			reqs := mockCompletion.Requests()
			Expect(reqs).To(HaveLen(2))
			last := reqs[1].Messages
			Expect(last).To(HaveLen(4))
			Expect(last[0]).To(Equal(testutil.MockTurn{Role: "system", Content: "You are terse."}))
			Expect(last[1].Content).To(Equal("first"))
			Expect(last[2].Content).To(Equal("echo: first"))
			Expect(last[3].Content).To(Equal("second"))
		})

		It("rejects blank text without calling the service", func() {
			_, resp, err := client.Send(ctx, "  \n ")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
			Expect(mockCompletion.Requests()).To(BeEmpty())
		})

		It("rejects a second send while the first is pending", func() {
			mockCompletion.Hold()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				ex, _, err := client.Send(ctx, "slow")
				Expect(err).NotTo(HaveOccurred())
				Expect(ex.Reply.Text).To(Equal("echo: slow"))
			}()

			Eventually(func() bool {
				s, err := client.Status(ctx)
				return err == nil && s.Busy
			}).Should(BeTrue())

			_, resp, err := client.Send(ctx, "again")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.ErrorCode()).To(Equal("BUSY"))

			mockCompletion.Release()
			wg.Wait()

			Expect(mockCompletion.Requests()).To(HaveLen(1))
			s, err := client.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Busy).To(BeFalse())
		})
	})

	Describe("Failures", func() {
		It("records the error marker and recovers on retry", func() {
			mockCompletion.Script(testutil.MockReply{Status: http.StatusInternalServerError, Error: "model overloaded"})

			ex, _, err := client.Send(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.Error).To(Equal("model overloaded"))
			Expect(ex.Reply.Text).To(Equal("Request failed: model overloaded"))

			s, err := client.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.LastError).To(Equal("model overloaded"))

			ex, _, err = client.Retry(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.Reply.Text).To(Equal("echo: hi"))

			active, _ := client.Active(ctx)
			Expect(active.Messages).To(HaveLen(2))
			s, _ = client.Status(ctx)
			Expect(s.LastError).To(BeEmpty())
		})

		It("can dismiss the error without retrying", func() {
			mockCompletion.Script(testutil.MockReply{Status: http.StatusBadGateway, Error: "upstream down"})
			client.Send(ctx, "hi")

			resp, err := client.Delete(ctx, "/chat/error")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			s, _ := client.Status(ctx)
			Expect(s.LastError).To(BeEmpty())
		})
	})

	Describe("Regenerate and edit", func() {
		It("replaces the targeted reply", func() {
			client.Send(ctx, "hi")
			active, _ := client.Active(ctx)
			reply := active.Messages[1]

			mockCompletion.Script(testutil.MockReply{Text: "hello again"})
			ex, resp, err := client.Regenerate(ctx, reply.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(ex.Reply.Text).To(Equal("hello again"))

			active, _ = client.Active(ctx)
			Expect(active.Messages).To(HaveLen(2))
			Expect(active.Messages[1].ID).NotTo(Equal(reply.ID))
		})

		It("refuses to regenerate a user message", func() {
			client.Send(ctx, "hi")
			active, _ := client.Active(ctx)
			calls := len(mockCompletion.Requests())

			_, resp, err := client.Regenerate(ctx, active.Messages[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(mockCompletion.Requests()).To(HaveLen(calls))
		})

		It("edits text without a new completion", func() {
			client.Send(ctx, "hi")
			active, _ := client.Active(ctx)
			calls := len(mockCompletion.Requests())

			resp, err := client.Patch(ctx, "/chat/message/"+active.Messages[0].ID, map[string]string{"text": "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			active, _ = client.Active(ctx)
			Expect(active.Messages[0].Text).To(Equal("hello"))
			Expect(mockCompletion.Requests()).To(HaveLen(calls))
		})
	})

	Describe("Session management", func() {
		It("creates, selects and deletes chats", func() {
			first, _ := client.Active(ctx)
			second, err := client.NewChat(ctx)
			Expect(err).NotTo(HaveOccurred())

			list, _ := client.Chats(ctx)
			Expect(list.Sessions).To(HaveLen(2))
			Expect(list.ActiveID).To(Equal(second.ID))

			resp, _ := client.Post(ctx, "/chat/"+first.ID+"/select", nil)
			Expect(resp.IsSuccess()).To(BeTrue())
			list, _ = client.Chats(ctx)
			Expect(list.ActiveID).To(Equal(first.ID))

			resp, _ = client.Delete(ctx, "/chat/"+first.ID)
			Expect(resp.IsSuccess()).To(BeTrue())
			list, _ = client.Chats(ctx)
			Expect(list.Sessions).To(HaveLen(1))
			Expect(list.ActiveID).To(Equal(second.ID))
		})

		It("leaves no active chat after clearing", func() {
			resp, _ := client.Delete(ctx, "/chat")
			Expect(resp.IsSuccess()).To(BeTrue())

			active, err := client.Active(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeNil())

			_, resp, _ = client.Send(ctx, "hi")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
