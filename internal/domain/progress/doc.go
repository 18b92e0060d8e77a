// Package progress содержит ядро геймификации Study Hub.
//
// Пакет определяет агрегат UserProgress и четыре независимых набора правил,
// каждый из которых является чистой функцией над явным состоянием:
//
//   - EvaluateStreak - серия дней учёбы (сегодня / вчера / разрыв);
//   - PointAward и Accrual - начисление очков только дельтами с ключами идемпотентности;
//   - LevelFor - уровень и прогресс внутри уровня по таблице порогов;
//   - Evaluate - разблокировка достижений по фиксированной таблице.
//
// Хранилище описано интерфейсом Store (Get / Update / Subscribe). Правила не
// зависят от хранилища и тестируются без него:
//
//	p := progress.New("user-1", now)
//	p.RecordStudy("Mathematics", 1500, now)
//	award, _ := p.CompleteSession(now)
//	info := progress.LevelFor(p.Points)
//
// Очки никогда не пересчитываются с нуля: каждое начисление записывается в
// журнал Awards под уникальным ключом ("task-completed:<id>", "study-hour:<n>",
// "pomodoro:<n>", "task-started:<id>"), повторное начисление по тому же ключу
// игнорируется.
package progress
