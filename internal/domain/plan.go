package domain

// 执行操作的三种形态。
const (
	OpMove    = "move"
	OpCopy    = "copy"
	OpInPlace = "in_place" // 目标与源相同，无需迁移
)

// 规划期的冲突裁决结果。
const (
	CollisionNone    = "none"
	CollisionSkip    = "skip"      // 默认策略：保留既有文件，跳过本条
	CollisionSuffix  = "suffixed"  // 改用 __2/__3… 备选名
	CollisionReplace = "overwrite" // 调用方显式要求覆盖
)

// MovePlan 规划一次文件迁移（只描述 src/dst；执行顺序由 executor 约束）。
type MovePlan struct {
	SrcAbs string
	DstAbs string
}

// SortPlan 是对单个视频文件的最小执行计划。
// 由 planner 计算、executor 立即消费，不持久化。
type SortPlan struct {
	Code Code

	// DestLevels 是 destRoot 之下、影片目录之上的嵌套层（外层在前）。
	// DestDir 是最终影片目录的绝对路径（已含 DestLevels 与影片目录名）。
	DestRoot   string
	DestLevels []string
	DestDir    string
	DestFile   string // 目标视频文件名（含扩展名）

	Video MovePlan
	Subs  []MovePlan // 伴随字幕，顺序与发现顺序一致

	SidecarName string // NFO 文件名（不含目录）

	Operation string // OpMove / OpCopy / OpInPlace
	DryRun    bool

	// Collision 记录规划期的冲突判定。为 skip 时 executor 不得发生任何写入。
	Collision string
}
