package common

// ContinuationPrompt is the default instruction appended to a continuation
// request after an upstream response was cut off mid-stream.
const ContinuationPrompt = `请从刚才被截断的地方继续输出剩余的所有内容，不要重复前面已经输出的内容，直接继续输出。`

// ThinkingOnlyPlaceholder is substituted when a fake-stream response
// contained only reasoning content and no user-visible text.
const ThinkingOnlyPlaceholder = "[模型正在思考中，请稍后再试或重新提问]"

// EmptyResponsePlaceholder is substituted when the backend returned no
// usable content at all.
const EmptyResponsePlaceholder = "[响应为空，请重新尝试]"

// HealthCheckReply is returned verbatim by the health-check short-circuit.
const HealthCheckReply = "gcli2api正常工作中"

// EmptySystemPlaceholder is injected as a lone user part when a request
// contained only system messages and would otherwise translate to an
// empty contents array.
const EmptySystemPlaceholder = "请根据系统指令回答。"
