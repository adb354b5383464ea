package model

import "time"

// Period は在籍期間を表す。education / experience / organization で共通。
// 月・年はクライアントの表示形式（"September", "2014" など）のまま文字列で保持する。
type Period struct {
	StartMonth  string `json:"startMonth" validate:"required,max=20"`
	StartYear   string `json:"startYear" validate:"required,max=10"`
	EndMonth    string `json:"endMonth,omitempty" validate:"max=20"`
	EndYear     string `json:"endYear,omitempty" validate:"max=10"`
	IsCurrent   bool   `json:"isCurrent,omitempty"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

// Education は学歴を表す。
type Education struct {
	University string `json:"university" validate:"required,max=200"`
	DegreeName string `json:"degreeName" validate:"required,max=200"`
	DegreeType string `json:"degreeType" validate:"required,max=100"`
	Period
}

// Experience は職歴を表す。
type Experience struct {
	Company  string `json:"company" validate:"required,max=200"`
	Location string `json:"location" validate:"required,max=200"`
	Position string `json:"position" validate:"required,max=200"`
	Period
}

// Organization は所属団体を表す。
type Organization struct {
	Name     string `json:"name" validate:"required,max=200"`
	Position string `json:"position" validate:"required,max=200"`
	Period
}

// Profile は卒業生ディレクトリのプロフィールを表す。ユーザーごとに最大1件。
type Profile struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	Name          string         `json:"name"`
	Email         string         `json:"email"`
	Class         string         `json:"class"`
	House         string         `json:"house,omitempty"`
	AvatarURL     string         `json:"avatar,omitempty"`
	ResumeURL     string         `json:"resume,omitempty"`
	Education     []Education    `json:"education"`
	Experiences   []Experience   `json:"experiences"`
	Organizations []Organization `json:"organizations"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Blob はオブジェクトストレージにアップロードしたファイルを表す。永続化はしない。
type Blob struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}
