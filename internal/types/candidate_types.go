package types

// SectionName 表示候选人档案的章节名称
type SectionName string

const (
	// SectionSkills 技能章节
	SectionSkills SectionName = "skills"
	// SectionExperience 工作经历章节
	SectionExperience SectionName = "experience"
	// SectionEducation 教育经历章节
	SectionEducation SectionName = "education"
	// SectionLanguages 语言能力章节
	SectionLanguages SectionName = "languages"
	// SectionSummary 个人摘要章节
	SectionSummary SectionName = "summary"
)

// KnownSections 所有规范化后可被索引的章节名称
var KnownSections = []SectionName{
	SectionSkills,
	SectionExperience,
	SectionEducation,
	SectionLanguages,
	SectionSummary,
}

// DefaultSectionWeights 默认的章节权重
// 缺失的章节不参与加权，权重和在打分时归一化
var DefaultSectionWeights = map[SectionName]float64{
	SectionExperience: 0.4,
	SectionSkills:     0.4,
	SectionEducation:  0.2,
	SectionLanguages:  0.1,
}

// CandidateRecord 规范化后的候选人档案
// Sections 是稀疏的：某候选人没有的章节不出现在map中，
// 缺失本身是一等状态而不是错误。
type CandidateRecord struct {
	// 候选人唯一标识
	ID string
	// 原始档案来源（文件路径或URL）
	SourceURI string
	// 章节名称 -> 规范化后的章节文本
	Sections map[SectionName]string
}

// SectionVector 表示某候选人某章节的向量表示
type SectionVector struct {
	CandidateID string
	Section     SectionName
	Vector      []float64
}

// ScoringResult 单个候选人的打分结果
type ScoringResult struct {
	// 候选人标识
	CandidateID string `json:"candidate_id"`
	// 综合得分，归一化到 [0,1]
	Score float64 `json:"score"`
	// 各章节归一化后的得分明细
	Breakdown map[SectionName]float64 `json:"breakdown"`
}
