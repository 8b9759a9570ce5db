// internal/models/character.go
package models

import "time"

// Persona 节目角色的静态设定
type Persona struct {
	ID             string              `json:"id" yaml:"id"`
	Name           string              `json:"name" yaml:"name"`
	Description    string              `json:"description" yaml:"description"`
	Motivation     string              `json:"motivation" yaml:"motivation"`
	Style          string              `json:"style" yaml:"style"`
	Goals          []string            `json:"goals" yaml:"goals"`
	Traits         []string            `json:"traits" yaml:"traits"`
	SpeechPatterns map[string][]string `json:"speech_patterns" yaml:"speech_patterns"`
	Temperament    string              `json:"temperament" yaml:"temperament"`
}

// SystemPrompt 角色的基础系统提示
func (p Persona) SystemPrompt() string {
	return "You are " + p.Name + ", a resident of a reality-show house. " + p.Description +
		" Your motivation: " + p.Motivation + ". Speaking style: " + p.Style +
		". Stay in character and answer in one to three sentences."
}

// ChatResponse 角色回应
type ChatResponse struct {
	Character string    `json:"character"`
	Response  string    `json:"response"`
	Mood      string    `json:"mood"`
	Timestamp time.Time `json:"timestamp"`
}

// CharacterStatus 已初始化角色的状态
type CharacterStatus struct {
	CharacterID   string    `json:"character_id"`
	Status        string    `json:"status"`
	Mood          string    `json:"mood"`
	Persona       Persona   `json:"identity"`
	InitializedAt time.Time `json:"initialized_at"`
	MemorySize    int       `json:"memory_size"`
}
