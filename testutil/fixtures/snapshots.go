// 分析快照用的测试夹具。
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/marketflow/internal/analytics"
)

// --- 快照夹具 ---

// Snapshot 返回指定内容与渠道的快照，采集时间为当前时刻
func Snapshot(contentID, channel string) *analytics.Snapshot {
	return SnapshotAt(contentID, channel, time.Now())
}

// SnapshotAt 返回指定采集时间的快照
func SnapshotAt(contentID, channel string, at time.Time) *analytics.Snapshot {
	return &analytics.Snapshot{
		RunID:     "fixture-run-001",
		ContentID: contentID,
		Channel:   channel,
		Metrics: map[string]float64{
			"views":           1250,
			"clicks":          87,
			"conversions":     12,
			"engagement_rate": 0.42,
		},
		Insights: []string{
			"engagement is strongest on " + channel,
			"conversion rate above channel baseline",
		},
		CollectedAt: at,
	}
}

// SnapshotSeries 返回同一内容的 n 条快照，
// 从 start 开始每条间隔 step，快照按时间升序
func SnapshotSeries(contentID, channel string, n int, start time.Time, step time.Duration) []*analytics.Snapshot {
	out := make([]*analytics.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		snap := SnapshotAt(contentID, channel, start.Add(time.Duration(i)*step))
		snap.RunID = fmt.Sprintf("fixture-run-%03d", i+1)
		snap.Metrics["views"] += float64(i * 100)
		out = append(out, snap)
	}
	return out
}
