package domain

type HistoryStatus string

const (
	HistoryResolved   HistoryStatus = "已解决"
	HistoryInProgress HistoryStatus = "进行中"
)

// HistoryRecord is a past mediation as shown in the history view.
type HistoryRecord struct {
	ID            int
	Date          string
	Time          string
	Issue         string
	HarmonyScore  int
	KeyResolution string
	Status        HistoryStatus
}

// SampleHistory is the fixed showcase list; mediations are not persisted.
func SampleHistory() []HistoryRecord {
	return []HistoryRecord{
		{ID: 1, Date: "2024-01-15", Time: "20:30", Issue: "关于家务分工的讨论", HarmonyScore: 85, KeyResolution: "制定了详细的家务轮班表，双方都很满意", Status: HistoryResolved},
		{ID: 2, Date: "2024-01-10", Time: "19:15", Issue: "周末安排意见不一致", HarmonyScore: 72, KeyResolution: "达成共识：一个周末宅家，一个周末外出", Status: HistoryInProgress},
		{ID: 3, Date: "2024-01-05", Time: "21:45", Issue: "关于投资理财的分歧", HarmonyScore: 78, KeyResolution: "决定咨询理财顾问，制定长期规划", Status: HistoryResolved},
		{ID: 4, Date: "2023-12-28", Time: "18:20", Issue: "过年回哪家的争议", HarmonyScore: 90, KeyResolution: "轮流回家，公平合理，皆大欢喜", Status: HistoryResolved},
		{ID: 5, Date: "2023-12-20", Time: "22:10", Issue: "工作加班与陪伴平衡", HarmonyScore: 65, KeyResolution: "设定了固定的约会日，工作再忙也要保证", Status: HistoryResolved},
	}
}

// AverageHarmony is the rounded mean harmony score, 0 for no records.
func AverageHarmony(records []HistoryRecord) int {
	if len(records) == 0 {
		return 0
	}
	total := 0
	for _, r := range records {
		total += r.HarmonyScore
	}
	return (total + len(records)/2) / len(records)
}

// Resolved counts records marked as resolved.
func Resolved(records []HistoryRecord) int {
	n := 0
	for _, r := range records {
		if r.Status == HistoryResolved {
			n++
		}
	}
	return n
}
