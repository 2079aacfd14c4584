package e2e_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/DmytroChyzh/ciedenmanager/citest/testutil"
	"github.com/DmytroChyzh/ciedenmanager/internal/history"
)

var _ = Describe("Persistence", func() {
	var storageDir string

	BeforeEach(func() {
		storageDir = GinkgoT().TempDir()
	})

	restart := func() *testutil.TestClient {
		mockCompletion.Reset()
		ts, err := testutil.StartTestServer(
			testutil.WithCompletionURL(mockCompletion.URL()),
			testutil.WithStorageDir(storageDir),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ts.Stop)
		return ts.Client()
	}

	It("restores chats across restarts", func() {
		ts, err := testutil.StartTestServer(
			testutil.WithCompletionURL(mockCompletion.URL()),
			testutil.WithStorageDir(storageDir),
		)
		Expect(err).NotTo(HaveOccurred())
		client := ts.Client()

		client.Send(ctx, "remember me")
		second, _ := client.NewChat(ctx)
		client.Send(ctx, "and me")
		Expect(ts.Stop()).To(Succeed())

		client = restart()
		list, err := client.Chats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list.Sessions).To(HaveLen(2))
		Expect(list.ActiveID).To(Equal(second.ID))

		active, _ := client.Active(ctx)
		Expect(active.Messages).To(HaveLen(2))
		Expect(active.Messages[0].Text).To(Equal("and me"))
	})

	It("writes the history slot after every change", func() {
		ts, err := testutil.StartTestServer(
			testutil.WithCompletionURL(mockCompletion.URL()),
			testutil.WithStorageDir(storageDir),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ts.Stop)

		ts.Client().Send(ctx, "hi")

		data, err := os.ReadFile(filepath.Join(storageDir, history.DefaultKey+".json"))
		Expect(err).NotTo(HaveOccurred())
		sessions, err := history.Decode(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Messages).To(HaveLen(2))
	})

	It("starts fresh when the slot is corrupt", func() {
		Expect(os.WriteFile(filepath.Join(storageDir, history.DefaultKey+".json"), []byte("{not json"), 0644)).To(Succeed())

		client := restart()
		list, err := client.Chats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list.Sessions).To(HaveLen(1))
		Expect(list.Sessions[0].Messages).To(BeEmpty())
	})
})
