package entities

type Book struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Title        string `gorm:"not null" json:"title"`
	Author       string `json:"author"`
	TotalCount   int    `gorm:"not null;default:0" json:"total_count"`
	CurrentCount int    `gorm:"not null;default:0" json:"current_count"` // Copies on the shelf
}

func (Book) TableName() string {
	return "books"
}

type Reader struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"not null" json:"name"`
	Phone string `gorm:"size:32" json:"phone"`
}

func (Reader) TableName() string {
	return "readers"
}
