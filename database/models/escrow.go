// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"errors"
	"time"
)

var ErrProjectNotFound = errors.New("project not found")

// Project is the persisted record of an escrow project.
type Project struct {
	ID             uint   `gorm:"primarykey"`
	ProjectID      uint64 `gorm:"uniqueIndex;not null"`
	Beneficiary    string `gorm:"index;size:128;not null"`
	Asset          string `gorm:"index;size:64;not null"`
	TotalAmount    uint64 `gorm:"not null"`
	ReleasedAmount uint64 `gorm:"not null"`
	Active         bool   `gorm:"index;not null"`
}

// TableName returns the table name
func (Project) TableName() string {
	return "project"
}

// Milestone is one funded deliverable inside a project.
type Milestone struct {
	ID             uint      `gorm:"primarykey"`
	ProjectID      uint64    `gorm:"uniqueIndex:idx_milestone_unique,priority:1;not null"`
	MilestoneIndex int       `gorm:"uniqueIndex:idx_milestone_unique,priority:2;not null"`
	Amount         uint64    `gorm:"not null"`
	Deadline       time.Time `gorm:"not null"`
	Status         string    `gorm:"index;size:16;not null"`
	DeliverableRef string    `gorm:"size:256"`
	Approver       string    `gorm:"size:128"`
}

// TableName returns the table name
func (Milestone) TableName() string {
	return "milestone"
}
