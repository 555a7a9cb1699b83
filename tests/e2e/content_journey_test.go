// 内容生产端到端测试。
//
// 覆盖从 HTTP 提交到持久层落库的完整链路。
//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/marketflow/api"
	"github.com/BaSui01/marketflow/internal/repository"
	"github.com/BaSui01/marketflow/marketing"
	"github.com/BaSui01/marketflow/testutil"
)

func TestEndToEndContentJourney(t *testing.T) {
	SkipIfShort(t)

	env := NewTestEnv(t, WithChannels("email", "blog"))
	ctx := env.Context()

	// 流程目录完整可见
	status, listEnv := env.DoJSON(t, http.MethodGet, "/v1/flows", "", "")
	require.Equal(t, http.StatusOK, status)

	var flows api.FlowListResponse
	require.NoError(t, json.Unmarshal(listEnv.Data, &flows))
	assert.Contains(t, flows.Flows, marketing.FlowEndToEnd)
	assert.Len(t, flows.Tools, 5)

	// 同步跑完整条流水线
	inputs := testutil.NewStoreBuilder().
		WithTopic("fall product launch").
		WithContentType("email").
		WithContentID("e2e-content-1").
		With("target_audience", "existing customers").
		Inputs()
	body, err := json.Marshal(api.RunRequest{Inputs: inputs})
	require.NoError(t, err)

	rec := env.SubmitRun(t, marketing.FlowEndToEnd, string(body), "")
	assert.Equal(t, api.RunSucceeded, rec.Status)
	assert.Equal(t, true, rec.Store["optimization_completed"])
	assert.Equal(t, true, rec.Store["distribution_completed"])
	assert.Equal(t, true, rec.Store["analytics_completed"])

	// 内容与分发记录已落库
	records, err := env.Repo.ListContent(ctx, repository.ContentFilter{RunID: rec.RunID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fall product launch", records[0].Topic)
	assert.NotEmpty(t, records[0].Body)

	dists, err := env.Repo.ListDistributions(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Len(t, dists, 2)

	// 分析快照进入存储，含渠道明细与汇总
	snaps, err := env.Sink.ListSnapshots(ctx, "e2e-content-1")
	require.NoError(t, err)

	byChannel := map[string]bool{}
	for _, snap := range snaps {
		byChannel[snap.Channel] = true
	}
	assert.True(t, byChannel["email"])
	assert.True(t, byChannel["blog"])
	assert.True(t, byChannel["all"])

	// 运行记录可回查，列表最新在前
	fetched := env.PollRun(t, rec.RunID, "", time.Second)
	assert.Equal(t, api.RunSucceeded, fetched.Status)

	status, runsEnv := env.DoJSON(t, http.MethodGet, "/v1/runs", "", "")
	require.Equal(t, http.StatusOK, status)

	var runs api.RunListResponse
	require.NoError(t, json.Unmarshal(runsEnv.Data, &runs))
	require.NotEmpty(t, runs.Runs)
	assert.Equal(t, rec.RunID, runs.Runs[0].RunID)

	// LLM 只在生成阶段被调用
	assert.Equal(t, 1, env.Provider.CallCount())
}

func TestAsyncRunJourney(t *testing.T) {
	env := NewTestEnv(t)

	status, submitEnv := env.DoJSON(t, http.MethodPost,
		"/v1/flows/"+marketing.FlowContentCreation+"/runs?async=true",
		`{"inputs":{"topic":"async launch note"}}`, "")
	require.Equal(t, http.StatusAccepted, status)

	var sub api.RunSubmission
	require.NoError(t, json.Unmarshal(submitEnv.Data, &sub))
	require.NotEmpty(t, sub.RunID)
	assert.Equal(t, api.RunPending, sub.Status)

	rec := env.PollRun(t, sub.RunID, "", 10*time.Second)
	require.Equal(t, api.RunSucceeded, rec.Status, "async run failed: %s", rec.Error)
	assert.Equal(t, true, rec.Store["generation_completed"])
	require.NotNil(t, rec.FinishedAt)
}

func TestGTMStrategyBranchesOverAPI(t *testing.T) {
	env := NewTestEnv(t)

	messaging := env.SubmitRun(t, marketing.FlowGTMStrategy,
		`{"inputs":{"product_name":"MarketFlow","strategy_focus":"messaging"}}`, "")
	require.Equal(t, api.RunSucceeded, messaging.Status)
	assert.Contains(t, messaging.Store, "messaging")
	assert.Contains(t, messaging.Store, "content_plan")
	assert.NotContains(t, messaging.Store, "channel_strategy")

	channels := env.SubmitRun(t, marketing.FlowGTMStrategy,
		`{"inputs":{"product_name":"MarketFlow","strategy_focus":"channels"}}`, "")
	require.Equal(t, api.RunSucceeded, channels.Status)
	assert.Contains(t, channels.Store, "channel_strategy")
	assert.NotContains(t, channels.Store, "messaging")

	// 两个分支都汇合到后段的计划与分析阶段
	for _, rec := range []api.RunRecord{messaging, channels} {
		assert.Contains(t, rec.Store, "campaign_plan")
		assert.Contains(t, rec.Store, "analytics_results")
	}
}

func TestAuthenticatedJourney(t *testing.T) {
	env := NewTestEnv(t, WithAuth())

	// 无令牌拒绝
	status, _ := env.DoJSON(t, http.MethodGet, "/v1/flows", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	// 健康端点豁免认证
	resp, err := http.Get(env.URL("/healthz"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 有效令牌放行完整旅程
	token := env.Token(t, "acme")
	rec := env.SubmitRun(t, marketing.FlowContentCreation,
		`{"inputs":{"topic":"tenant scoped run"}}`, token)
	assert.Equal(t, api.RunSucceeded, rec.Status)

	fetched := env.PollRun(t, rec.RunID, token, time.Second)
	assert.Equal(t, rec.RunID, fetched.RunID)
}
