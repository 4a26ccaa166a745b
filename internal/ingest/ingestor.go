package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"candidate-scorer-go/internal/logger"
	"candidate-scorer-go/internal/types"
)

// Result 一次目录摄取的结果
type Result struct {
	// 成功解析的候选人档案
	Loaded []*types.CandidateRecord
	// 被跳过的文件名（格式非法或不含档案对象），永不中止整批
	Skipped []string
}

// ProfileIngestor 将外部抓取服务产出的候选人JSON文件解析为规范化档案
// 上游来源网站五花八门，字段命名不统一，这里尽量宽容地识别各种包装格式。
type ProfileIngestor struct{}

// NewProfileIngestor 创建档案摄取器
func NewProfileIngestor() *ProfileIngestor {
	return &ProfileIngestor{}
}

// IngestDirectory 枚举目录下的候选人JSON文件并逐个解析
// 单个文件解析失败只计入Skipped；仅目录本身不可读时返回错误。
func (p *ProfileIngestor) IngestDirectory(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取档案目录失败: %w", err)
	}

	// 按文件名排序，保证同一目录快照的摄取顺序可复现
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	result := &Result{}
	for _, name := range names {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		path := filepath.Join(dir, name)
		records, err := p.ingestFile(path)
		if err != nil || len(records) == 0 {
			if err != nil {
				logger.Warn().Err(err).Str("file", name).Msg("跳过无法解析的档案文件")
			} else {
				logger.Warn().Str("file", name).Msg("文件中未找到档案对象，跳过")
			}
			result.Skipped = append(result.Skipped, name)
			continue
		}
		result.Loaded = append(result.Loaded, records...)
	}

	logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("skipped", len(result.Skipped)).
		Str("dir", dir).
		Msg("档案摄取完成")
	return result, nil
}

// ingestFile 解析单个文件，一个文件可能包装多个档案
func (p *ProfileIngestor) ingestFile(path string) ([]*types.CandidateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("JSON解析失败: %w", err)
	}

	profiles := extractProfilesFromBlob(raw)
	records := make([]*types.CandidateRecord, 0, len(profiles))
	for _, profile := range profiles {
		record := buildRecord(profile, path)
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// extractProfilesFromBlob 从各种包装格式中提取档案对象列表
// 支持 {"results": [...]}、{"result": {...}}（可能是字符串化JSON）、
// 嵌套的 profile/person/candidate 键、裸档案对象以及档案数组。
func extractProfilesFromBlob(blob interface{}) []map[string]interface{} {
	var profiles []map[string]interface{}

	switch v := blob.(type) {
	case map[string]interface{}:
		if results, ok := v["results"].([]interface{}); ok {
			for _, r := range results {
				inner := tryParseMaybeString(r)
				m, ok := inner.(map[string]interface{})
				if !ok {
					continue
				}
				profiles = append(profiles, unwrapNested(m))
			}
			return profiles
		}
		if rawResult, ok := v["result"]; ok {
			inner := tryParseMaybeString(rawResult)
			if m, ok := inner.(map[string]interface{}); ok {
				// 把外层的标识字段合并进内层档案
				for _, key := range []string{"url", "candidate_id", "profile_url", "id"} {
					if outer, ok := v[key]; ok {
						if _, exists := m[key]; !exists {
							m[key] = outer
						}
					}
				}
				profiles = append(profiles, m)
				return profiles
			}
		}
		profiles = append(profiles, unwrapNested(v))
	case []interface{}:
		for _, item := range v {
			inner := tryParseMaybeString(item)
			if m, ok := inner.(map[string]interface{}); ok {
				profiles = append(profiles, unwrapNested(m))
			}
		}
	case string:
		if m, ok := tryParseMaybeString(v).(map[string]interface{}); ok {
			profiles = append(profiles, unwrapNested(m))
		}
	}
	return profiles
}

// unwrapNested 剥掉 profile/person/candidate 这类嵌套包装键
func unwrapNested(m map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"profile", "person", "candidate"} {
		if inner, ok := m[key].(map[string]interface{}); ok {
			return inner
		}
	}
	return m
}

// tryParseMaybeString 对形如JSON字面量的字符串再解析一次
func tryParseMaybeString(obj interface{}) interface{} {
	s, ok := obj.(string)
	if !ok {
		return obj
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return obj
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if (first == '{' && last == '}') || (first == '[' && last == ']') {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return obj
}

// buildRecord 把一个档案对象展平为规范化的CandidateRecord
// 返回nil表示该对象无法识别为候选人档案。
func buildRecord(profile map[string]interface{}, path string) *types.CandidateRecord {
	if len(profile) == 0 {
		return nil
	}

	record := &types.CandidateRecord{
		ID:        extractCandidateID(profile, path),
		SourceURI: path,
		Sections:  make(map[types.SectionName]string),
	}

	about := asString(getField(profile, "summary", "about", "headline"))
	if text := normalizeText(about); text != "" {
		record.Sections[types.SectionSummary] = text
	}

	// 技能：多种字段名，找不到时退回到较长的自由文本字段；摘要拼在前面提供上下文
	skills := flattenSkills(getField(profile, "skills", "skill", "skill_set", "keywords", "skills_list"))
	if skills == "" {
		for _, key := range []string{"summary", "about", "description", "details"} {
			if s := asString(profile[key]); len(s) > 10 {
				skills = s
				break
			}
		}
	}
	if about != "" && !strings.Contains(skills, about) {
		if skills != "" {
			skills = about + "\n" + skills
		} else {
			skills = about
		}
	}
	if text := normalizeText(skills); text != "" {
		record.Sections[types.SectionSkills] = text
	}

	if items := flattenExperience(getField(profile, "experience", "work_experience", "positions", "jobs")); len(items) > 0 {
		record.Sections[types.SectionExperience] = normalizeText(strings.Join(items, "\n"))
	}

	if edu := flattenEducation(getField(profile, "education", "studies", "education_history")); edu != "" {
		record.Sections[types.SectionEducation] = normalizeText(edu)
	}

	if langs := flattenLanguages(getField(profile, "languages", "language", "langs")); langs != "" {
		record.Sections[types.SectionLanguages] = normalizeText(langs)
	}

	return record
}

// extractCandidateID 提取候选人标识
// 优先常见ID字段，其次档案URL，最后退回文件名。
func extractCandidateID(profile map[string]interface{}, path string) string {
	if cid := asString(getField(profile, "id", "candidate_id", "profile_id", "uid", "user_id")); cid != "" {
		return cid
	}
	if url := asString(getField(profile, "url", "linkedin", "linkedin_url", "profile_url")); url != "" {
		return url
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// getField 返回档案中第一个存在且非nil的候选字段
func getField(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// asString 宽容地把标量转成字符串
func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// flattenSkills 将多种形态的技能字段展平为单段文本
func flattenSkills(v interface{}) string {
	switch sk := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(sk)
	case []interface{}:
		parts := make([]string, 0, len(sk))
		for _, item := range sk {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ; ")
	case map[string]interface{}:
		// 可能是 {技能: 等级} 或按类别嵌套的列表
		keys := sortedKeys(sk)
		parts := make([]string, 0, len(sk))
		for _, k := range keys {
			switch inner := sk[k].(type) {
			case []interface{}:
				for _, item := range inner {
					if s := stringify(item); s != "" {
						parts = append(parts, s)
					}
				}
			default:
				if s := asString(inner); s != "" {
					parts = append(parts, fmt.Sprintf("%s:%s", k, s))
				} else {
					parts = append(parts, k)
				}
			}
		}
		return strings.Join(parts, " ; ")
	default:
		return stringify(v)
	}
}

// flattenExperience 将工作经历条目展平为文本片段
// 每条经历由 角色|公司|时间段|地点|技能|描述 拼接而成。
func flattenExperience(v interface{}) []string {
	var out []string
	switch exp := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		if items := getField(exp, "items", "positions", "roles"); items != nil {
			return flattenExperience(items)
		}
		keys := sortedKeys(exp)
		for _, k := range keys {
			out = append(out, flattenExperience(exp[k])...)
		}
	case []interface{}:
		for _, e := range exp {
			switch item := e.(type) {
			case map[string]interface{}:
				role := asString(getField(item, "role", "title", "position", "job_title"))
				company := asString(getField(item, "company", "employer", "organisation", "organization"))
				period := asString(getField(item, "start_end", "duration", "dates", "date"))
				location := asString(getField(item, "location", "place"))
				skills := flattenSkills(getField(item, "skills", "keywords", "stack", "technologies"))
				desc := asString(getField(item, "description", "summary", "details", "about"))
				seg := joinNonEmpty(" | ", role, company, period, location, skills, desc)
				if seg != "" {
					out = append(out, seg)
				}
			case string:
				if s := strings.TrimSpace(item); s != "" {
					out = append(out, s)
				}
			default:
				if s := stringify(item); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		if s := strings.TrimSpace(exp); s != "" {
			out = append(out, s)
		}
	default:
		if s := stringify(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flattenEducation 将教育经历展平为单段文本
func flattenEducation(v interface{}) string {
	switch edu := v.(type) {
	case nil:
		return ""
	case map[string]interface{}:
		if items := getField(edu, "items", "degrees", "education"); items != nil {
			return flattenEducation(items)
		}
		// 单条教育记录
		return flattenEducation([]interface{}{edu})
	case []interface{}:
		var parts []string
		for _, e := range edu {
			switch item := e.(type) {
			case map[string]interface{}:
				inst := asString(getField(item, "institution", "school", "college", "university"))
				field := asString(getField(item, "field_of_study", "major", "degree"))
				period := asString(getField(item, "start_end", "dates", "duration"))
				grade := asString(getField(item, "grade", "score", "gpa"))
				desc := asString(getField(item, "description", "notes", "summary"))
				seg := joinNonEmpty(" | ", inst, field, period, grade, desc)
				if seg != "" {
					parts = append(parts, seg)
				}
			case string:
				if s := strings.TrimSpace(item); s != "" {
					parts = append(parts, s)
				}
			default:
				if s := stringify(item); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	case string:
		return strings.TrimSpace(edu)
	default:
		return stringify(v)
	}
}

// flattenLanguages 将语言能力展平为 "名称:等级" 列表文本
func flattenLanguages(v interface{}) string {
	var parts []string
	switch langs := v.(type) {
	case nil:
		return ""
	case []interface{}:
		for _, l := range langs {
			switch item := l.(type) {
			case map[string]interface{}:
				name := asString(getField(item, "language", "name"))
				level := asString(getField(item, "level", "proficiency"))
				if name == "" {
					continue
				}
				if level != "" {
					parts = append(parts, name+":"+level)
				} else {
					parts = append(parts, name)
				}
			case string:
				if s := strings.TrimSpace(item); s != "" {
					parts = append(parts, s)
				}
			}
		}
	case map[string]interface{}:
		for _, k := range sortedKeys(langs) {
			if level := asString(langs[k]); level != "" {
				parts = append(parts, k+":"+level)
			} else {
				parts = append(parts, k)
			}
		}
	case string:
		for _, lang := range regexp.MustCompile(`[,|;]`).Split(langs, -1) {
			if s := strings.TrimSpace(lang); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ; ")
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// normalizeText 去掉HTML标签并压缩空白
func normalizeText(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stringify 对未知类型做最后的字符串化兜底
func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s := asString(v); s != "" {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	text := strings.Trim(string(data), `"`)
	if text == "null" || text == "{}" || text == "[]" {
		return ""
	}
	return text
}

// joinNonEmpty 拼接非空片段
func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, sep)
}

// sortedKeys map遍历顺序不确定，展平结果需要稳定
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
