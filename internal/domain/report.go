package domain

type FallbackReason string

const (
	ReasonNone         FallbackReason = ""
	ReasonNoCredential FallbackReason = "no_credential"
	ReasonHTTPStatus   FallbackReason = "http_status"
	ReasonMalformed    FallbackReason = "malformed_response"
	ReasonTransport    FallbackReason = "transport"
)

// AnalysisResult is always usable: when the model could not be reached, Markdown
// holds FallbackReport and Fallback is set.
type AnalysisResult struct {
	Markdown string
	Fallback bool
	Reason   FallbackReason
}

func FallbackResult(reason FallbackReason) AnalysisResult {
	return AnalysisResult{Markdown: FallbackReport, Fallback: true, Reason: reason}
}

// FallbackReport is returned verbatim whenever live analysis is unavailable.
const FallbackReport = "经过AI分析，发现你们的矛盾主要源于沟通方式和期望值的差异。\n\n" +
	"幽默介绍：哎呀呀，看来咱们这对小夫妻又在上演《甄嬛传》了呢！😄 别急别急，和谐师在此，专治各种不服！\n\n" +
	"核心问题：沟通频率不匹配 - 一个希望多聊天，一个觉得太吵闹\n\n" +
	"情感需求：双方都渴望被理解，但表达方式不同\n\n" +
	"解决方向：建立固定的沟通时间，互相尊重个人空间\n\n" +
	"建议：建议每天晚上8-9点为「专属聊天时光」，这个时间段专心交流，其他时间各自忙碌也OK！\n\n" +
	"记住哦，恋爱就像泡茶，太急了会苦，太慢了会淡，刚刚好才最香甜！你们一定可以找到属于自己的节奏！💕"
