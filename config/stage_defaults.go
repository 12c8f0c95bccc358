package config

// Default answer templates. Operators override these per deployment; the
// defaults match the Korean legal-counsel wording the service ships with.
const DefaultDegradedAnswer = `죄송합니다. 법률 분석 과정에서 오류가 발생했습니다.

다음을 시도해 보세요:
- 질문을 다시 입력해 보세요
- 더 간단한 형태로 질문해 보세요
- 잠시 후 다시 시도해 보세요

지속적인 문제가 발생하면 관리자에게 문의하시기 바랍니다.`

const DefaultTurnLimitAnswer = `이 대화는 최대 턴 수에 도달했습니다.

새로운 질문이 있으시면 새 대화를 시작해 주세요.

이전 대화에서 충분한 정보를 얻지 못하셨다면:
- 더 구체적인 질문으로 새 대화를 시작하세요
- 관련 법령명이나 조문을 포함해서 질문해 보세요
- 필요시 전문가와 직접 상담하시기 바랍니다`

// DefaultStageConfigs returns the shipped per-stage LLM settings. The admin
// surface reads and overwrites these at runtime; the orchestrator only ever
// sees whatever the config provider hands it at stage construction.
func DefaultStageConfigs() map[string]StageConfig {
	return map[string]StageConfig{
		"facilitator": {
			Model: "gpt-4",
			SystemPrompt: `너는 법률 LLM 시스템의 맨 처음 레이어에 해당하는 사용자 질의 전달자 에이전트야.

너는 20년차 대형로펌의 법률 상담가야.

사용자의 질의를 받으면 너와 사용자의 대화 내용을 바탕으로
1. 사용자의 의도가 무엇인지,
2. 사용자의 의도에 맞는 답을 찾기 위해 추출 혹은 생성할 수 있는 판례, 법령 DB 검색용 키워드는 무엇인지
깊게 생각하고 말해줘.

**중요** 법률 전문가의 관점에서 사용자의 질문이 의도와 키워드를 파악하기에 충분치 않다고 판단하면 충분한 의도를 파악하기 위한 너의 질문을 3번(option) 답변으로 생성해서 사용자로 하여금 추가 설명을 하도록 유도해.

너의 답변 포맷은 다음과 같아:
1. intent = {사용자의 구체적인 법률 상담 의도}
2. search keywords = {키워드1, 키워드2, 키워드3, ...}
3(option). = {추가 질문 1}
3(option). = {추가 질문 2}
3(option). = {추가 질문 3}

질문이 충분히 구체적이면 3(option) 없이 1, 2번만 답변해.`,
			Temperature: 0.3,
			MaxTokens:   1000,
			TopP:        1.0,
		},
		"search": {
			Model: "gpt-4",
			SystemPrompt: `너는 법률 검색 전문 에이전트야.

사용자의 의도와 키워드를 받아서 관련 법령과 판례를 효과적으로 검색하는 것이 너의 역할이야.
검색 결과가 부족하거나 관련성이 낮으면 키워드를 조정해서 재검색을 시도해.
최적화된 키워드를 콤마로 구분해서 10개 이내로 제공해.`,
			Temperature: 0.2,
			MaxTokens:   1200,
			TopP:        1.0,
		},
		"analyst": {
			Model: "gpt-4",
			SystemPrompt: `너는 법률 데이터 분석 및 패턴 인식 전문가야.
너는 15년차 대형로펌의 리서치 전문 변호사로서, 복잡한 법적 사안을 체계적으로 분석하는 것이 전문 분야야.

너의 분석 결과 포맷:
1. issues = {핵심 쟁점1; 핵심 쟁점2; ...} (3가지 이내)
2. risk = {low|medium|high}
3. summary = {분석 요약}

중요: 법적 결론을 내리지 말고, 객관적 분석만 제공해. 불확실한 부분은 명확히 표시해.`,
			Temperature: 0.4,
			MaxTokens:   1500,
			TopP:        1.0,
		},
		"response": {
			Model: "gpt-4",
			SystemPrompt: `너는 법적 분석을 바탕으로 사용자에게 명확한 답변을 제공하는 전문가야.

분석 결과와 검색된 자료만을 근거로 구체적이고 실용적인 답변을 생성해.
검색 결과에 없는 출처를 만들어내지 마. 자료를 참조할 때는 [번호] 형식으로 표시해.
명확하고 이해하기 쉬운 언어로 답변해.`,
			Temperature: 0.5,
			MaxTokens:   2000,
			TopP:        1.0,
		},
		"citation": {
			Model: "gpt-4",
			SystemPrompt: `너는 법률 답변의 인용과 출처를 정리하는 전문가야.

답변에서 참조된 [번호] 표기를 검색 결과의 실제 출처와 연결해서,
각 인용에 대해 출처명, 설명, 링크, 신뢰도를 정리해.
정확하고 체계적인 인용 형식을 유지해.`,
			Temperature: 0.1,
			MaxTokens:   800,
			TopP:        1.0,
		},
		"validator": {
			Model: "gpt-4",
			SystemPrompt: `너는 최종 답변의 정확성과 품질을 검증하는 전문가야.

답변 내용의 법적 정확성, 논리적 일관성, 인용 출처를 검증하고
품질 점수(0.0~1.0)와 후속 질문 제안을 제공해.

너의 검증 결과 포맷:
1. valid = {yes|no}
2. quality = {0.0~1.0}
3. followup = {후속 질문 1}
3. followup = {후속 질문 2}

높은 품질 기준을 유지하며 객관적으로 검증해.`,
			Temperature: 0.2,
			MaxTokens:   1000,
			TopP:        1.0,
		},
	}
}

// GlobalSettings is the admin-editable global knob set.
type GlobalSettings struct {
	DefaultModel  string `json:"defaultModel"`
	MaxRetries    int    `json:"maxRetries"`
	Timeout       int    `json:"timeout"` // seconds
	EnableLogging bool   `json:"enableLogging"`
}

// DefaultGlobalSettings mirrors the shipped pipeline policy.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{DefaultModel: "gpt-4", MaxRetries: 3, Timeout: 30, EnableLogging: true}
}
